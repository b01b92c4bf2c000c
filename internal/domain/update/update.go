package update

import "fmt"

// Version is the packed firmware version value as published by the CDN.
//
// Bit layout (most to least significant):
// major (6 bits), minor (6 bits), micro (4 bits), build number (16 bits).
type Version uint32

// Major returns the major component of the version triple.
func (v Version) Major() uint32 {
	return uint32(v>>26) & 0x3F
}

// Minor returns the minor component of the version triple.
func (v Version) Minor() uint32 {
	return uint32(v>>20) & 0x3F
}

// Micro returns the micro component of the version triple.
func (v Version) Micro() uint32 {
	return uint32(v>>16) & 0xF
}

// BuildNumber returns the build number encoded in the low 16 bits.
func (v Version) BuildNumber() uint32 {
	return uint32(v) & 0xFFFF
}

// String renders the version triple, e.g. "16.1.0".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Micro())
}

// Update is the descriptor of the latest remote update: the owning title,
// its version, the content identifier of the descriptor itself and the raw
// metadata payload. It is produced once per run and never mutated.
type Update struct {
	// TitleID is the identifier of the system update title.
	TitleID uint64
	// Version is the packed firmware version of this update.
	Version Version
	// ContentID identifies the descriptor's own metadata content.
	ContentID string
	// Payload is the raw content-metadata bytes of the descriptor.
	Payload []byte
}

// MetaEntry is one metadata title referenced by an update descriptor.
// Entries are the unit of title filtering.
type MetaEntry struct {
	// TitleID is the identifier of the title owning this metadata.
	TitleID uint64
	// Version is the packed version of the referenced metadata.
	Version Version
}

// ContentEntry is one addressable content blob referenced by a downloaded
// metadata title.
type ContentEntry struct {
	// ID is the hex content identifier used to address the blob on the CDN.
	ID string
	// Size is the declared size of the blob in bytes.
	Size uint64
	// Type is the content type tag from the metadata record.
	Type uint8
}
