// Package protocol decodes the Spin Touch test-result packet.
//
// The instrument transfers one fixed-layout structure over the data
// characteristic (91 bytes minimum):
//
//	[0:4]    start signature 01 02 03 05 (load-bearing)
//	[4:76]   up to 12 six-byte entries: [param id][decimals][float32 LE]
//	[76:84]  timestamp: year-2000, month, day, hour, minute, second,
//	         pm flag, military-time flag
//	[84:87]  metadata: valid result count, disk index, sanitizer index
//	[87:91]  end signature 07 0B 0D 11 (advisory only)
//
// Entry scanning stops at the first all-zero entry. Byte offsets and
// signatures are protocol constants, not configurable.
package protocol

// Packet layout constants.
const (
	HeaderSize         = 4
	EntrySize          = 6
	MaxEntries         = 12
	TimestampOffset    = 76
	TimestampSize      = 8
	MetadataOffset     = 84
	EndSignatureOffset = 87
	MinPacketSize      = 91
)

// Fixed byte signatures framing the packet.
var (
	StartSignature = []byte{0x01, 0x02, 0x03, 0x05}
	EndSignature   = []byte{0x07, 0x0B, 0x0D, 0x11}
)

// GATT identifiers for the instrument's custom service.
const (
	ServiceUUID        = "00000000-0000-1000-8000-bbbd00000000"
	DataCharUUID       = "00000000-0000-1000-8000-bbbd00000010"
	StatusCharUUID     = "00000000-0000-1000-8000-bbbd00000011"
	SendTestCharUUID   = "00000000-0000-1000-8000-bbbd00000012"
	AckCharUUID        = "00000000-0000-1000-8000-bbbd00000013"
)

// AckPayload is written to the ack characteristic after a new report is
// accepted, releasing the report slot on the instrument.
var AckPayload = []byte{0x01}

// diskTypes maps the metadata disk index to the printed disk series.
var diskTypes = map[uint8]string{
	0:  "101",
	1:  "102",
	2:  "201",
	3:  "202",
	4:  "301",
	5:  "302",
	6:  "401",
	7:  "402",
	8:  "501",
	9:  "601",
	16: "103",
	17: "203",
	18: "303",
	19: "503",
	20: "603",
	22: "104",
	23: "204",
	24: "304",
}

// sanitizerTypes maps the metadata sanitizer index to its display name.
var sanitizerTypes = map[uint8]string{
	0: "Chlorine",
	1: "Salt",
	2: "Bromine",
	3: "Biguanide",
	4: "DWTreated",
	5: "AQFresh",
	6: "CTCL",
	7: "CTBR",
	8: "Unknown",
}

// statusNames maps the status characteristic's first byte to the
// instrument state it reports.
var statusNames = map[byte]string{
	0x01: "Initializing",
	0x02: "Ready",
	0x03: "Testing",
	0x04: "Complete",
	0x05: "Error",
	0x06: "Idle",
}

// DiskTypeName returns the disk series string for a metadata disk index.
func DiskTypeName(index uint8) (string, bool) {
	name, ok := diskTypes[index]
	return name, ok
}

// SanitizerName returns the sanitizer display name for a metadata index.
func SanitizerName(index uint8) (string, bool) {
	name, ok := sanitizerTypes[index]
	return name, ok
}

// StatusName returns a readable name for a status notification byte.
func StatusName(b byte) (string, bool) {
	name, ok := statusNames[b]
	return name, ok
}
