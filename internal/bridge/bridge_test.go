package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolsense/spintouch/internal/protocol"
	"github.com/poolsense/spintouch/internal/reading"
)

func testOptions() Options {
	o := Options{DeviceAddress: "AA:BB:CC:DD:EE:FF"}
	o.applyDefaults()
	return o
}

func TestTopics(t *testing.T) {
	o := testOptions()
	assert.Equal(t, "spintouch_aabbccddeeff", o.DeviceID())
	assert.Equal(t, "spintouch/spintouch_aabbccddeeff/state", o.StateTopic())
	assert.Equal(t, "spintouch/spintouch_aabbccddeeff/availability", o.AvailabilityTopic())
	assert.Equal(t, "spintouch/spintouch_aabbccddeeff/command", o.CommandTopic())
	assert.Equal(t, "homeassistant/sensor/spintouch_aabbccddeeff_ph/config", o.DiscoveryTopic("ph"))
}

func TestFormatStatePayload(t *testing.T) {
	report := time.Date(2025, 11, 29, 12, 30, 45, 0, time.UTC)
	seen := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	snap := reading.Snapshot{
		Keys: []string{protocol.KeyFreeChlorine, protocol.KeyPH},
		Values: map[string]float64{
			protocol.KeyFreeChlorine: 2.5,
			protocol.KeyPH:           7.4,
		},
		ReportTime:        &report,
		LastReadingTime:   &seen,
		NumValidResults:   10,
		DiskType:          "303",
		SanitizerType:     "Chlorine",
		DiskSeries:        "303",
		Connected:         true,
		ConnectionEnabled: true,
	}

	payload, err := FormatStatePayload(snap)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 2.5, decoded["free_chlorine"])
	assert.Equal(t, 7.4, decoded["ph"])
	assert.Equal(t, "303", decoded["disk_series"])
	assert.Equal(t, "Chlorine", decoded["sanitizer_type"])
	assert.Equal(t, "2025-11-29T12:30:45Z", decoded["report_time"])
	assert.Equal(t, "2026-08-27T09:00:00Z", decoded["last_reading_time"])
	assert.Equal(t, true, decoded["connected"])
}

func TestFormatStatePayloadOmitsUnknownKeys(t *testing.T) {
	snap := reading.Snapshot{
		Keys:              []string{protocol.KeyPH},
		Values:            map[string]float64{protocol.KeyPH: 7.2},
		ConnectionEnabled: true,
	}

	payload, err := FormatStatePayload(snap)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	// Never-observed sensors must be absent, not zero.
	_, present := decoded[protocol.KeyFreeChlorine]
	assert.False(t, present)
	_, present = decoded["report_time"]
	assert.False(t, present)
}

func TestFormatDiscoveryPayload(t *testing.T) {
	payload, err := FormatDiscoveryPayload(testOptions(), "free_chlorine", "Free Chlorine", "ppm", "mdi:flask")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "Free Chlorine", decoded["name"])
	assert.Equal(t, "spintouch_aabbccddeeff_free_chlorine", decoded["unique_id"])
	assert.Equal(t, "spintouch/spintouch_aabbccddeeff/state", decoded["state_topic"])
	assert.Equal(t, "spintouch/spintouch_aabbccddeeff/availability", decoded["availability_topic"])
	assert.Equal(t, "{{ value_json.free_chlorine }}", decoded["value_template"])
	assert.Equal(t, "ppm", decoded["unit_of_measurement"])

	device, ok := decoded["device"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "SpinTouch", device["name"])
}

func TestFormatDiscoveryPayloadOmitsEmptyUnit(t *testing.T) {
	payload, err := FormatDiscoveryPayload(testOptions(), "ph", "pH", "", "mdi:ph")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	_, present := decoded["unit_of_measurement"]
	assert.False(t, present)
}

func TestDiscoverySensorsCoverAllDefinitions(t *testing.T) {
	keys := make(map[string]bool)
	for _, s := range discoverySensors() {
		assert.False(t, keys[s.Key], "duplicate discovery key %s", s.Key)
		keys[s.Key] = true
	}

	for _, def := range protocol.Definitions() {
		assert.True(t, keys[def.Key], "missing discovery for %s", def.Key)
	}
	for _, def := range protocol.CalculatedDefinitions() {
		assert.True(t, keys[def.Key], "missing discovery for %s", def.Key)
	}
}
