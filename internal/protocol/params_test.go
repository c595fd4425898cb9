package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAliases(t *testing.T) {
	tests := []struct {
		name    string
		id      uint8
		wantKey string
	}{
		{"free chlorine", ParamFreeChlorine, KeyFreeChlorine},
		{"total chlorine", ParamTotalChlorine, KeyTotalChlorine},
		{"ph", ParamPH, KeyPH},
		{"calcium standard range", ParamCalcium, KeyCalcium},
		{"calcium high range aliases to same key", ParamCalciumHighRange, KeyCalcium},
		{"borate", ParamBorate, KeyBorate},
		{"phosphate", ParamPhosphate, KeyPhosphate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := Lookup(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, def.Key)
		})
	}
}

func TestLookupUnknownID(t *testing.T) {
	_, ok := Lookup(0xEE)
	assert.False(t, ok)

	// 0x11 is the instrument's own combined-chlorine slot; we derive that
	// value ourselves, so the id is deliberately unregistered.
	_, ok = Lookup(ParamCombinedChlorine)
	assert.False(t, ok)
}

func TestLookupKey(t *testing.T) {
	def, ok := LookupKey(KeyCyanuricAcid)
	require.True(t, ok)
	assert.Equal(t, "Cyanuric Acid", def.Name)
	assert.Equal(t, 1, def.Decimals)

	_, ok = LookupKey("not_a_sensor")
	assert.False(t, ok)
}

func TestBuildParamIndexRejectsDuplicateAlias(t *testing.T) {
	orig := definitions
	defer func() { definitions = orig }()

	definitions = []Definition{
		{Key: "a", ParamIDs: []uint8{0x01}},
		{Key: "b", ParamIDs: []uint8{0x01}},
	}

	assert.Panics(t, func() { buildParamIndex() })
}

func TestDefinitionsRangesAreSane(t *testing.T) {
	for _, def := range Definitions() {
		assert.Less(t, def.MinValid, def.MaxValid, "definition %s", def.Key)
		assert.NotEmpty(t, def.ParamIDs, "definition %s", def.Key)
		assert.GreaterOrEqual(t, def.Decimals, 0, "definition %s", def.Key)
	}
}

func TestCalculatedDefinitions(t *testing.T) {
	keys := make([]string, 0, 2)
	for _, def := range CalculatedDefinitions() {
		keys = append(keys, def.Key)
	}
	assert.Equal(t, []string{KeyCombinedChlorine, KeyFcCyaRatio}, keys)
}
