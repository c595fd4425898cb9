// Package bridge publishes readings to an MQTT broker using Home Assistant
// discovery, and accepts the force-reconnect command over the same broker.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/poolsense/spintouch/internal/protocol"
	"github.com/poolsense/spintouch/internal/reading"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// CommandReconnect is the command payload that triggers a force reconnect.
const CommandReconnect = "reconnect"

// Options configures the bridge topics and broker session.
type Options struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string // default "spintouch"
	DiscoveryPrefix string // default "homeassistant"

	// DeviceAddress is the instrument's BLE address, used to derive a
	// stable device id for topics and discovery unique_ids.
	DeviceAddress string

	// DeviceName is the display name in Home Assistant.
	DeviceName string
}

func (o *Options) applyDefaults() {
	if o.ClientID == "" {
		o.ClientID = "spintouch"
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "spintouch"
	}
	if o.DiscoveryPrefix == "" {
		o.DiscoveryPrefix = "homeassistant"
	}
	if o.DeviceName == "" {
		o.DeviceName = "SpinTouch"
	}
}

// DeviceID derives a topic-safe identifier from the BLE address.
func (o Options) DeviceID() string {
	id := strings.ToLower(o.DeviceAddress)
	id = strings.NewReplacer(":", "", "-", "").Replace(id)
	if id == "" {
		id = "spintouch"
	}
	return "spintouch_" + id
}

// StateTopic carries the reading JSON.
func (o Options) StateTopic() string {
	return fmt.Sprintf("%s/%s/state", o.TopicPrefix, o.DeviceID())
}

// AvailabilityTopic carries online/offline, retained.
func (o Options) AvailabilityTopic() string {
	return fmt.Sprintf("%s/%s/availability", o.TopicPrefix, o.DeviceID())
}

// CommandTopic receives host commands.
func (o Options) CommandTopic() string {
	return fmt.Sprintf("%s/%s/command", o.TopicPrefix, o.DeviceID())
}

// DiscoveryTopic is the retained per-sensor config topic.
func (o Options) DiscoveryTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", o.DiscoveryPrefix, o.DeviceID(), key)
}

// Publisher is the host-integration surface the lifecycle publishes through.
type Publisher interface {
	// PublishDiscovery announces every sensor to Home Assistant. Retained.
	PublishDiscovery() error

	// PublishReading sends the current reading state JSON.
	PublishReading(snap reading.Snapshot) error

	// PublishAvailability sends online/offline. Retained.
	PublishAvailability(online bool) error

	// SubscribeCommands registers the force-reconnect command handler.
	SubscribeCommands(onForceReconnect func()) error

	// Close disconnects from the broker.
	Close() error
}

// statePayload is the state JSON. Sensor keys are flattened at the top
// level so discovery value templates stay trivial; a key never validly
// observed is absent, not zero.
type statePayload map[string]interface{}

// FormatStatePayload creates the reading state JSON.
func FormatStatePayload(snap reading.Snapshot) ([]byte, error) {
	payload := statePayload{
		"disk_series":        snap.DiskSeries,
		"disk_type":          snap.DiskType,
		"sanitizer_type":     snap.SanitizerType,
		"num_valid_results":  snap.NumValidResults,
		"connected":          snap.Connected,
		"connection_enabled": snap.ConnectionEnabled,
	}
	for _, key := range snap.Keys {
		payload[key] = snap.Values[key]
	}
	if snap.ReportTime != nil {
		payload["report_time"] = snap.ReportTime.UTC().Format(time.RFC3339)
	}
	if snap.LastReadingTime != nil {
		payload["last_reading_time"] = snap.LastReadingTime.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}

// discoveryPayload is one Home Assistant MQTT discovery config.
type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	ValueTemplate     string          `json:"value_template"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// FormatDiscoveryPayload creates the retained discovery config for one
// sensor key.
func FormatDiscoveryPayload(opts Options, key, name, unit, icon string) ([]byte, error) {
	opts.applyDefaults()
	payload := discoveryPayload{
		Name:              name,
		UniqueID:          fmt.Sprintf("%s_%s", opts.DeviceID(), key),
		StateTopic:        opts.StateTopic(),
		AvailabilityTopic: opts.AvailabilityTopic(),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", key),
		Unit:              unit,
		Icon:              icon,
		Device: discoveryDevice{
			Identifiers:  []string{opts.DeviceID()},
			Name:         opts.DeviceName,
			Manufacturer: "LaMotte",
			Model:        "WaterLink SpinTouch",
		},
	}
	return json.Marshal(payload)
}

// sensorEntry is one discoverable sensor.
type sensorEntry struct {
	Key  string
	Name string
	Unit string
	Icon string
}

// discoverySensors enumerates every sensor the bridge announces: the
// measured parameters, the calculated ones, and the report metadata.
func discoverySensors() []sensorEntry {
	var sensors []sensorEntry
	for _, def := range protocol.Definitions() {
		sensors = append(sensors, sensorEntry{Key: def.Key, Name: def.Name, Unit: def.Unit, Icon: def.Icon})
	}
	for _, def := range protocol.CalculatedDefinitions() {
		sensors = append(sensors, sensorEntry{Key: def.Key, Name: def.Name, Unit: def.Unit, Icon: def.Icon})
	}
	sensors = append(sensors,
		sensorEntry{Key: "disk_series", Name: "Disk Series", Icon: "mdi:disc"},
		sensorEntry{Key: "sanitizer_type", Name: "Sanitizer Type", Icon: "mdi:flask"},
		sensorEntry{Key: "report_time", Name: "Report Time", Icon: "mdi:clock-outline"},
	)
	return sensors
}
