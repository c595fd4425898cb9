package protocol

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPacket assembles a minimal valid packet for tests. Timestamp bytes
// are written raw; ts[7] is the military flag, ts[6] the pm flag.
func buildPacket(entries []Entry, ts [8]byte, meta Metadata) []byte {
	buf := make([]byte, MinPacketSize)
	copy(buf, StartSignature)
	for i, e := range entries {
		off := HeaderSize + i*EntrySize
		buf[off] = e.ID
		buf[off+1] = e.Decimals
		binary.LittleEndian.PutUint32(buf[off+2:off+6], math.Float32bits(e.Value))
	}
	copy(buf[TimestampOffset:], ts[:])
	buf[MetadataOffset] = meta.NumValidResults
	buf[MetadataOffset+1] = meta.DiskTypeIndex
	buf[MetadataOffset+2] = meta.SanitizerTypeIndex
	copy(buf[EndSignatureOffset:], EndSignature)
	return buf
}

func militaryTime(year int, month, day, hour, minute, second byte) [8]byte {
	return [8]byte{byte(year - 2000), month, day, hour, minute, second, 0, 1}
}

func TestValidate(t *testing.T) {
	valid := buildPacket(nil, militaryTime(2025, 11, 29, 12, 30, 45), Metadata{})

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:   "valid packet",
			mutate: func(b []byte) []byte { return b },
		},
		{
			name:    "empty buffer",
			mutate:  func(b []byte) []byte { return nil },
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "one byte short",
			mutate:  func(b []byte) []byte { return b[:MinPacketSize-1] },
			wantErr: ErrPacketTooShort,
		},
		{
			name: "corrupted start signature",
			mutate: func(b []byte) []byte {
				b[0] = 0xFF
				return b
			},
			wantErr: ErrBadStartSignature,
		},
		{
			name: "corrupted end signature is still valid",
			mutate: func(b []byte) []byte {
				b[EndSignatureOffset] = 0x00
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), valid...))
			err := Validate(buf)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasEndSignature(t *testing.T) {
	buf := buildPacket(nil, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})
	assert.True(t, HasEndSignature(buf))

	buf[EndSignatureOffset+2] = 0xAA
	assert.False(t, HasEndSignature(buf))

	assert.False(t, HasEndSignature(buf[:EndSignatureOffset]))
}

func TestScanEntries(t *testing.T) {
	t.Run("stops at sentinel", func(t *testing.T) {
		buf := buildPacket([]Entry{
			{ID: 0x01, Decimals: 2, Value: 2.5},
			{ID: 0x06, Decimals: 1, Value: 7.4},
		}, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})

		entries := ScanEntries(buf)
		require.Len(t, entries, 2)
		assert.Equal(t, uint8(0x01), entries[0].ID)
		assert.Equal(t, uint8(2), entries[0].Decimals)
		assert.InDelta(t, 2.5, entries[0].Value, 0.0001)
		assert.Equal(t, uint8(0x06), entries[1].ID)
	})

	t.Run("caps at twelve entries", func(t *testing.T) {
		entries := make([]Entry, MaxEntries)
		for i := range entries {
			entries[i] = Entry{ID: uint8(i + 1), Decimals: 1, Value: float32(i)}
		}
		buf := buildPacket(entries, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})

		// Fill the bytes right after the entry region with non-zero noise;
		// the scanner must not read past slot 12.
		buf[HeaderSize+MaxEntries*EntrySize] = 0x7F

		got := ScanEntries(buf)
		assert.Len(t, got, MaxEntries)
	})

	t.Run("zero value entry is not a sentinel", func(t *testing.T) {
		buf := buildPacket([]Entry{
			{ID: 0x01, Decimals: 0, Value: 0},
			{ID: 0x06, Decimals: 1, Value: 7.0},
		}, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})

		got := ScanEntries(buf)
		require.Len(t, got, 2)
	})

	t.Run("truncated buffer ends scan", func(t *testing.T) {
		buf := buildPacket([]Entry{
			{ID: 0x01, Decimals: 2, Value: 2.5},
			{ID: 0x02, Decimals: 2, Value: 3.0},
		}, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})

		// Cut mid-way through the second entry.
		got := ScanEntries(buf[:HeaderSize+EntrySize+3])
		require.Len(t, got, 1)
		assert.Equal(t, uint8(0x01), got[0].ID)
	})

	t.Run("non-finite value is surfaced per entry", func(t *testing.T) {
		buf := buildPacket([]Entry{
			{ID: 0x01, Decimals: 2, Value: float32(math.NaN())},
			{ID: 0x06, Decimals: 1, Value: 7.4},
		}, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{})

		got := ScanEntries(buf)
		require.Len(t, got, 2)
		assert.False(t, got[0].Finite())
		assert.True(t, got[1].Finite())
	})
}

func TestDecodeMetadata(t *testing.T) {
	buf := buildPacket(nil, militaryTime(2025, 1, 1, 0, 0, 0), Metadata{
		NumValidResults:    10,
		DiskTypeIndex:      18,
		SanitizerTypeIndex: 0,
	})

	meta, err := DecodeMetadata(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), meta.NumValidResults)
	assert.Equal(t, "303", meta.DiskType())
	assert.Equal(t, "Chlorine", meta.SanitizerType())

	_, err = DecodeMetadata(buf[:MetadataOffset+1])
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestDecodeMetadataUnknownIndices(t *testing.T) {
	meta := Metadata{DiskTypeIndex: 99, SanitizerTypeIndex: 99}
	assert.Equal(t, "", meta.DiskType())
	assert.Equal(t, "", meta.SanitizerType())
}

func TestDecodeReportTime(t *testing.T) {
	tests := []struct {
		name    string
		ts      [8]byte
		want    time.Time
		wantErr bool
	}{
		{
			name: "military time",
			ts:   [8]byte{25, 11, 29, 14, 30, 45, 0, 1},
			want: time.Date(2025, 11, 29, 14, 30, 45, 0, time.Local),
		},
		{
			name: "12h PM afternoon",
			ts:   [8]byte{25, 6, 15, 3, 0, 0, 1, 0},
			want: time.Date(2025, 6, 15, 15, 0, 0, 0, time.Local),
		},
		{
			name: "12h noon stays 12",
			ts:   [8]byte{25, 6, 15, 12, 0, 0, 1, 0},
			want: time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local),
		},
		{
			name: "12h midnight becomes 0",
			ts:   [8]byte{25, 6, 15, 12, 0, 0, 0, 0},
			want: time.Date(2025, 6, 15, 0, 0, 0, 0, time.Local),
		},
		{
			name: "12h AM morning",
			ts:   [8]byte{25, 6, 15, 9, 5, 7, 0, 0},
			want: time.Date(2025, 6, 15, 9, 5, 7, 0, time.Local),
		},
		{
			name:    "year below range",
			ts:      [8]byte{19, 6, 15, 9, 0, 0, 0, 1},
			wantErr: true,
		},
		{
			name:    "month zero",
			ts:      [8]byte{25, 0, 15, 9, 0, 0, 0, 1},
			wantErr: true,
		},
		{
			name:    "day out of range",
			ts:      [8]byte{25, 6, 32, 9, 0, 0, 0, 1},
			wantErr: true,
		},
		{
			name:    "hour out of range",
			ts:      [8]byte{25, 6, 15, 24, 0, 0, 0, 1},
			wantErr: true,
		},
		{
			name:    "minute out of range",
			ts:      [8]byte{25, 6, 15, 9, 60, 0, 0, 1},
			wantErr: true,
		},
		{
			name:    "second out of range",
			ts:      [8]byte{25, 6, 15, 9, 0, 61, 0, 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := buildPacket(nil, tt.ts, Metadata{})
			got, err := DecodeReportTime(buf)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTimestampRange)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}

	t.Run("too short", func(t *testing.T) {
		_, err := DecodeReportTime(make([]byte, TimestampOffset))
		assert.ErrorIs(t, err, ErrPacketTooShort)
	})
}
