package cnmt

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxkit/sysup/internal/domain/update"
)

// buildHeader assembles the fixed header with the provided counts.
func buildHeader(titleID uint64, version uint32, metaType uint8, contentCount, metaCount uint16) []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(b[0x00:], titleID)
	binary.LittleEndian.PutUint32(b[0x08:], version)
	b[0x0C] = metaType
	binary.LittleEndian.PutUint16(b[0x10:], contentCount)
	binary.LittleEndian.PutUint16(b[0x12:], metaCount)

	return b
}

// TestMetaEntries decodes a crafted system-update meta.
func TestMetaEntries(t *testing.T) {
	t.Parallel()

	blob := buildHeader(0x0100000000000816, 16<<26|1<<20, TypeSystemUpdate, 0, 2)

	for i, titleID := range []uint64{0x0100000000000809, 0x010000000000080A} {
		record := make([]byte, metaRecordSize)
		binary.LittleEndian.PutUint64(record[0x00:], titleID)
		binary.LittleEndian.PutUint32(record[0x08:], uint32(i+1))
		blob = append(blob, record...)
	}

	entries, err := MetaEntries(blob)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(0x0100000000000809), entries[0].TitleID)
	require.Equal(t, update.Version(1), entries[0].Version)
	require.Equal(t, uint64(0x010000000000080A), entries[1].TitleID)
}

// TestMetaEntriesRejectsTitleMeta ensures the type tag is enforced.
func TestMetaEntriesRejectsTitleMeta(t *testing.T) {
	t.Parallel()

	blob := buildHeader(0x0100000000000809, 1, TypeTitle, 0, 0)

	_, err := MetaEntries(blob)
	require.ErrorIs(t, err, errWrongType)
}

// TestContentEntries decodes a crafted title meta with one content record.
func TestContentEntries(t *testing.T) {
	t.Parallel()

	id, err := hex.DecodeString("aa00000000000000000000000000bb11")
	require.NoError(t, err)

	record := make([]byte, contentRecordSize)
	copy(record[contentHashSize:], id)
	// 48-bit size: 0x010203040506 little endian.
	copy(record[contentHashSize+contentIDSize:], []byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01})
	record[contentHashSize+contentIDSize+contentSizeFieldLen] = 1

	blob := append(buildHeader(0x0100000000000809, 1, TypeTitle, 1, 0), record...)

	entries, err := ContentEntries(blob)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "aa00000000000000000000000000bb11", entries[0].ID)
	require.Equal(t, uint64(0x010203040506), entries[0].Size)
	require.Equal(t, uint8(1), entries[0].Type)
}

// TestTruncatedBlobs verifies short inputs fail instead of panicking.
func TestTruncatedBlobs(t *testing.T) {
	t.Parallel()

	_, err := ParseHeader(nil)
	require.ErrorIs(t, err, errEmptyHeader)

	_, err = ParseHeader(make([]byte, headerSize-1))
	require.ErrorIs(t, err, errTruncated)

	// Header promises two records but carries none.
	blob := buildHeader(1, 1, TypeSystemUpdate, 0, 2)
	_, err = MetaEntries(blob)
	require.ErrorIs(t, err, errTruncated)
}
