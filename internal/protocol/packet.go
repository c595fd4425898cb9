package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Packet-scoped decode errors. All of them leave previously decoded state
// untouched at the caller; none are fatal.
var (
	ErrPacketTooShort    = errors.New("packet too short")
	ErrBadStartSignature = errors.New("bad start signature")
	ErrTimestampRange    = errors.New("timestamp component out of range")
)

// Validate checks the load-bearing framing of a raw packet: minimum length
// and the start signature. The end signature is deliberately not part of
// validation; use HasEndSignature to check it separately and log mismatches.
func Validate(buf []byte) error {
	if len(buf) < MinPacketSize {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrPacketTooShort, len(buf), MinPacketSize)
	}
	if !bytes.Equal(buf[:HeaderSize], StartSignature) {
		return fmt.Errorf("%w: % X", ErrBadStartSignature, buf[:HeaderSize])
	}
	return nil
}

// HasEndSignature reports whether the advisory end signature is intact.
// A mismatch is worth a warning but never invalidates the packet.
func HasEndSignature(buf []byte) bool {
	if len(buf) < EndSignatureOffset+len(EndSignature) {
		return false
	}
	return bytes.Equal(buf[EndSignatureOffset:EndSignatureOffset+len(EndSignature)], EndSignature)
}

// Entry is one raw test result slot: parameter id, the instrument's own
// decimal precision byte, and the measured value.
type Entry struct {
	ID       uint8
	Decimals uint8
	Value    float32
}

// Finite reports whether the entry's value decoded to a usable float.
// NaN and infinities indicate a corrupt slot; the entry itself is still
// returned so callers can account for the raw id.
func (e Entry) Finite() bool {
	v := float64(e.Value)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ScanEntries walks the entry run starting at the header boundary,
// extracting at most MaxEntries entries. Scanning stops early at the
// all-zero sentinel entry (id and decimals both zero) or when the buffer
// cannot hold another full entry. Pure extraction: no value filtering.
func ScanEntries(buf []byte) []Entry {
	entries := make([]Entry, 0, MaxEntries)
	for i := 0; i < MaxEntries; i++ {
		off := HeaderSize + i*EntrySize
		if off+EntrySize > len(buf) {
			break
		}
		id := buf[off]
		decimals := buf[off+1]
		if id == 0 && decimals == 0 {
			break
		}
		entries = append(entries, Entry{
			ID:       id,
			Decimals: decimals,
			Value:    math.Float32frombits(binary.LittleEndian.Uint32(buf[off+2 : off+6])),
		})
	}
	return entries
}

// Metadata is the fixed trailer decoded from bytes 84..86.
type Metadata struct {
	NumValidResults    uint8
	DiskTypeIndex      uint8
	SanitizerTypeIndex uint8
}

// DiskType returns the disk series for the metadata disk index, or "" when
// the index is unknown.
func (m Metadata) DiskType() string {
	name, _ := DiskTypeName(m.DiskTypeIndex)
	return name
}

// SanitizerType returns the sanitizer name for the metadata index, or ""
// when the index is unknown.
func (m Metadata) SanitizerType() string {
	name, _ := SanitizerName(m.SanitizerTypeIndex)
	return name
}

// DecodeMetadata extracts the result-count/disk/sanitizer trailer.
func DecodeMetadata(buf []byte) (Metadata, error) {
	if len(buf) < MetadataOffset+3 {
		return Metadata{}, fmt.Errorf("%w: no metadata trailer", ErrPacketTooShort)
	}
	return Metadata{
		NumValidResults:    buf[MetadataOffset],
		DiskTypeIndex:      buf[MetadataOffset+1],
		SanitizerTypeIndex: buf[MetadataOffset+2],
	}, nil
}

// DecodeReportTime decodes the instrument's own clock from bytes 76..83.
// The instrument stores hours in 12-hour form unless the military flag is
// set; the pm flag disambiguates (+12h for PM except 12 PM, 12 AM maps to
// hour 0). Components outside sane ranges (year 2020-2099, month 1-12,
// day 1-31, hour 0-23, minute/second 0-59) yield ErrTimestampRange.
func DecodeReportTime(buf []byte) (time.Time, error) {
	if len(buf) < TimestampOffset+TimestampSize {
		return time.Time{}, fmt.Errorf("%w: no timestamp", ErrPacketTooShort)
	}
	raw := buf[TimestampOffset : TimestampOffset+TimestampSize]

	year := 2000 + int(raw[0])
	month := int(raw[1])
	day := int(raw[2])
	hour := int(raw[3])
	minute := int(raw[4])
	second := int(raw[5])
	pm := raw[6] != 0
	military := raw[7] != 0

	if !military {
		// 12-hour clock: noon and midnight are both stored as 12.
		if pm && hour != 12 {
			hour += 12
		} else if !pm && hour == 12 {
			hour = 0
		}
	}

	switch {
	case year < 2020 || year > 2099:
		return time.Time{}, fmt.Errorf("%w: year %d", ErrTimestampRange, year)
	case month < 1 || month > 12:
		return time.Time{}, fmt.Errorf("%w: month %d", ErrTimestampRange, month)
	case day < 1 || day > 31:
		return time.Time{}, fmt.Errorf("%w: day %d", ErrTimestampRange, day)
	case hour < 0 || hour > 23:
		return time.Time{}, fmt.Errorf("%w: hour %d", ErrTimestampRange, hour)
	case minute < 0 || minute > 59:
		return time.Time{}, fmt.Errorf("%w: minute %d", ErrTimestampRange, minute)
	case second < 0 || second > 59:
		return time.Time{}, fmt.Errorf("%w: second %d", ErrTimestampRange, second)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}
