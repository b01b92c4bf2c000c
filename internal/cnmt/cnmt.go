package cnmt

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nxkit/sysup/internal/domain/update"
)

// Meta type tags carried in the header.
const (
	// TypeSystemUpdate marks a meta listing other metadata titles.
	TypeSystemUpdate uint8 = 0x01
	// TypeTitle marks a meta listing content blobs of a single title.
	TypeTitle uint8 = 0x80
)

const (
	headerSize          = 0x20
	metaRecordSize      = 0x10
	contentRecordSize   = 0x38
	contentIDSize       = 0x10
	contentHashSize     = 0x20
	contentSizeFieldLen = 6
)

var (
	errTruncated   = errors.New("content metadata truncated")
	errWrongType   = errors.New("unexpected content metadata type")
	errEmptyHeader = errors.New("content metadata is empty")
)

// Header is the fixed leading structure of every content-metadata blob.
type Header struct {
	// TitleID is the identifier of the title owning the metadata.
	TitleID uint64
	// Version is the packed version value of the metadata.
	Version update.Version
	// Type is one of the Type* tags.
	Type uint8
	// ExtendedHeaderSize is the number of type-specific bytes between the
	// header and the first record.
	ExtendedHeaderSize uint16
	// ContentCount is the number of content records in the blob.
	ContentCount uint16
	// ContentMetaCount is the number of content-meta records in the blob.
	ContentMetaCount uint16
}

// ParseHeader decodes the fixed header of a content-metadata blob.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) == 0 {
		return nil, errEmptyHeader
	}

	if len(b) < headerSize {
		return nil, fmt.Errorf("header is %d bytes: %w", len(b), errTruncated)
	}

	return &Header{
		TitleID:            binary.LittleEndian.Uint64(b[0x00:]),
		Version:            update.Version(binary.LittleEndian.Uint32(b[0x08:])),
		Type:               b[0x0C],
		ExtendedHeaderSize: binary.LittleEndian.Uint16(b[0x0E:]),
		ContentCount:       binary.LittleEndian.Uint16(b[0x10:]),
		ContentMetaCount:   binary.LittleEndian.Uint16(b[0x12:]),
	}, nil
}

// MetaEntries decodes a system-update meta into the metadata titles it
// references. The set is immutable for the run; filtering happens on copies.
func MetaEntries(b []byte) ([]update.MetaEntry, error) {
	header, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}

	if header.Type != TypeSystemUpdate {
		return nil, fmt.Errorf("type 0x%02X: %w", header.Type, errWrongType)
	}

	offset := headerSize + int(header.ExtendedHeaderSize)
	count := int(header.ContentMetaCount)

	if len(b) < offset+count*metaRecordSize {
		return nil, fmt.Errorf("%d meta records in %d bytes: %w", count, len(b), errTruncated)
	}

	entries := make([]update.MetaEntry, 0, count)

	for i := 0; i < count; i++ {
		record := b[offset+i*metaRecordSize:]
		entries = append(entries, update.MetaEntry{
			TitleID: binary.LittleEndian.Uint64(record[0x00:]),
			Version: update.Version(binary.LittleEndian.Uint32(record[0x08:])),
		})
	}

	return entries, nil
}

// ContentEntries decodes a per-title meta into the content blobs it
// references. Each record carries a hash, the content identifier, a 48-bit
// size and a type tag.
func ContentEntries(b []byte) ([]update.ContentEntry, error) {
	header, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}

	offset := headerSize + int(header.ExtendedHeaderSize)
	count := int(header.ContentCount)

	if len(b) < offset+count*contentRecordSize {
		return nil, fmt.Errorf("%d content records in %d bytes: %w", count, len(b), errTruncated)
	}

	entries := make([]update.ContentEntry, 0, count)

	for i := 0; i < count; i++ {
		record := b[offset+i*contentRecordSize:]
		id := record[contentHashSize : contentHashSize+contentIDSize]

		entries = append(entries, update.ContentEntry{
			ID:   hex.EncodeToString(id),
			Size: sizeField(record[contentHashSize+contentIDSize:]),
			Type: record[contentHashSize+contentIDSize+contentSizeFieldLen],
		})
	}

	return entries, nil
}

// sizeField decodes the 48-bit little-endian content size.
func sizeField(b []byte) uint64 {
	var size uint64
	for i := contentSizeFieldLen - 1; i >= 0; i-- {
		size = size<<8 | uint64(b[i])
	}

	return size
}
