package protocol

import "fmt"

// Raw parameter ids carried in entry slots. Ids index the instrument's
// internal test-factor table; several ids can alias the same chemistry.
const (
	ParamFreeChlorine     uint8 = 0x01
	ParamTotalChlorine    uint8 = 0x02
	ParamBromine          uint8 = 0x03
	ParamPH               uint8 = 0x06
	ParamAlkalinity       uint8 = 0x07
	ParamCalciumHighRange uint8 = 0x08
	ParamCyanuricAcid     uint8 = 0x0A
	ParamIron             uint8 = 0x0B
	ParamCopper           uint8 = 0x0C
	ParamBorate           uint8 = 0x0D // overloaded: phosphate on 20x disks
	ParamPhosphate        uint8 = 0x0E
	ParamCalcium          uint8 = 0x0F
	ParamSalt             uint8 = 0x10
	ParamCombinedChlorine uint8 = 0x11
)

// Sensor keys form the closed set of names readings are stored under.
const (
	KeyFreeChlorine     = "free_chlorine"
	KeyTotalChlorine    = "total_chlorine"
	KeyBromine          = "bromine"
	KeyPH               = "ph"
	KeyAlkalinity       = "alkalinity"
	KeyCalcium          = "calcium"
	KeyCyanuricAcid     = "cyanuric_acid"
	KeySalt             = "salt"
	KeyCopper           = "copper"
	KeyIron             = "iron"
	KeyPhosphate        = "phosphate"
	KeyBorate           = "borate"
	KeyCombinedChlorine = "combined_chlorine"
	KeyFcCyaRatio       = "fc_cya_ratio"
)

// Definition describes one logical sensor: its display metadata, the raw
// parameter ids that alias to it, and the inclusive range of plausible
// values. Values outside [MinValid, MaxValid] are dropped by the reading
// model.
type Definition struct {
	Key      string
	Name     string
	Unit     string // empty for unitless (pH)
	Icon     string
	Decimals int
	ParamIDs []uint8
	MinValid float64
	MaxValid float64
}

// CalculatedDefinition describes a sensor derived from other readings
// rather than decoded from an entry slot.
type CalculatedDefinition struct {
	Key      string
	Name     string
	Unit     string
	Icon     string
	Decimals int
}

var definitions = []Definition{
	{
		Key: KeyFreeChlorine, Name: "Free Chlorine", Unit: "ppm", Icon: "mdi:flask",
		Decimals: 2, ParamIDs: []uint8{ParamFreeChlorine}, MinValid: 0, MaxValid: 20,
	},
	{
		Key: KeyTotalChlorine, Name: "Total Chlorine", Unit: "ppm", Icon: "mdi:flask",
		Decimals: 2, ParamIDs: []uint8{ParamTotalChlorine}, MinValid: 0, MaxValid: 20,
	},
	{
		Key: KeyBromine, Name: "Bromine", Unit: "ppm", Icon: "mdi:flask",
		Decimals: 2, ParamIDs: []uint8{ParamBromine}, MinValid: 0, MaxValid: 20,
	},
	{
		Key: KeyPH, Name: "pH", Icon: "mdi:ph",
		Decimals: 2, ParamIDs: []uint8{ParamPH}, MinValid: 0, MaxValid: 14,
	},
	{
		Key: KeyAlkalinity, Name: "Total Alkalinity", Unit: "ppm", Icon: "mdi:water",
		Decimals: 1, ParamIDs: []uint8{ParamAlkalinity}, MinValid: 0, MaxValid: 500,
	},
	{
		// High-range disks report calcium under 0x08 instead of 0x0F.
		Key: KeyCalcium, Name: "Calcium Hardness", Unit: "ppm", Icon: "mdi:water",
		Decimals: 1, ParamIDs: []uint8{ParamCalcium, ParamCalciumHighRange}, MinValid: 0, MaxValid: 1200,
	},
	{
		Key: KeyCyanuricAcid, Name: "Cyanuric Acid", Unit: "ppm", Icon: "mdi:shield-sun",
		Decimals: 1, ParamIDs: []uint8{ParamCyanuricAcid}, MinValid: 0, MaxValid: 300,
	},
	{
		Key: KeySalt, Name: "Salt", Unit: "ppm", Icon: "mdi:shaker",
		Decimals: 0, ParamIDs: []uint8{ParamSalt}, MinValid: 0, MaxValid: 10000,
	},
	{
		Key: KeyCopper, Name: "Copper", Unit: "ppm", Icon: "mdi:flask",
		Decimals: 2, ParamIDs: []uint8{ParamCopper}, MinValid: 0, MaxValid: 5,
	},
	{
		Key: KeyIron, Name: "Iron", Unit: "ppm", Icon: "mdi:iron",
		Decimals: 2, ParamIDs: []uint8{ParamIron}, MinValid: 0, MaxValid: 5,
	},
	{
		Key: KeyPhosphate, Name: "Phosphate", Unit: "ppb", Icon: "mdi:flask-outline",
		Decimals: 0, ParamIDs: []uint8{ParamPhosphate}, MinValid: 0, MaxValid: 2500,
	},
	{
		Key: KeyBorate, Name: "Borate", Unit: "ppm", Icon: "mdi:flask-outline",
		Decimals: 1, ParamIDs: []uint8{ParamBorate}, MinValid: 0, MaxValid: 100,
	},
}

var calculated = []CalculatedDefinition{
	{Key: KeyCombinedChlorine, Name: "Combined Chlorine", Unit: "ppm", Icon: "mdi:flask-outline", Decimals: 2},
	{Key: KeyFcCyaRatio, Name: "FC/CYA Ratio", Unit: "%", Icon: "mdi:percent", Decimals: 1},
}

// paramIndex is the immutable id -> definition lookup, built once at
// package init. Lookups after init are pure reads and therefore safe
// from any goroutine.
var paramIndex = buildParamIndex()

func buildParamIndex() map[uint8]*Definition {
	index := make(map[uint8]*Definition)
	for i := range definitions {
		def := &definitions[i]
		for _, id := range def.ParamIDs {
			if prev, dup := index[id]; dup {
				// A raw id aliasing two definitions is a table bug, not a
				// runtime condition. Fail at startup.
				panic(fmt.Sprintf("protocol: param id 0x%02X registered for both %q and %q",
					id, prev.Key, def.Key))
			}
			index[id] = def
		}
	}
	return index
}

// Lookup resolves a raw parameter id to its sensor definition.
func Lookup(id uint8) (*Definition, bool) {
	def, ok := paramIndex[id]
	return def, ok
}

// LookupKey resolves a sensor key to its definition.
func LookupKey(key string) (*Definition, bool) {
	for i := range definitions {
		if definitions[i].Key == key {
			return &definitions[i], true
		}
	}
	return nil, false
}

// Definitions returns all decoded-sensor definitions in display order.
func Definitions() []Definition {
	return definitions
}

// CalculatedDefinitions returns the derived-sensor definitions.
func CalculatedDefinitions() []CalculatedDefinition {
	return calculated
}
