// Package reading maintains the decoded state of a single instrument: the
// last known value for every sensor key, the metadata of the most recent
// report, and the connectivity flags the host surfaces.
//
// A Model is created once per device and mutated in place on every accepted
// packet. Values survive disconnects so hosts can keep showing the last
// known chemistry while the device is out of reach.
package reading

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/poolsense/spintouch/internal/protocol"
)

// Outcome classifies one Update call.
type Outcome int

const (
	// Rejected means the packet failed validation or decoding; prior state
	// is untouched.
	Rejected Outcome = iota
	// AcceptedNew means the packet carried a report not seen before and
	// the model was updated.
	AcceptedNew
	// AcceptedDuplicate means the packet re-delivered the report already
	// held; no mutation happened.
	AcceptedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case AcceptedNew:
		return "accepted-new"
	case AcceptedDuplicate:
		return "accepted-duplicate"
	default:
		return "rejected"
	}
}

// DiskSeriesAuto requests auto-detection of the installed reagent disk.
const DiskSeriesAuto = "auto"

// Model is the mutable reading state for one device. All exported methods
// are safe for concurrent use.
type Model struct {
	mu  sync.Mutex
	log *logrus.Logger
	now func() time.Time

	onChange func()

	// diskSeriesOverride pins the reagent disk series ("203", "303", ...)
	// when auto-detection cannot resolve the overloaded 0x0D parameter.
	diskSeriesOverride string

	values            *orderedmap.OrderedMap[string, float64]
	detectedIDs       []uint8
	reportTime        *time.Time
	lastReadingTime   *time.Time
	meta              protocol.Metadata
	connected         bool
	connectionEnabled bool
}

// NewModel creates an empty model. diskSeries may be DiskSeriesAuto or a
// concrete series string supplied by the host configuration.
func NewModel(logger *logrus.Logger, diskSeries string) *Model {
	if logger == nil {
		logger = logrus.New()
	}
	return &Model{
		log:                logger,
		now:                time.Now,
		diskSeriesOverride: diskSeries,
		values:             orderedmap.New[string, float64](),
		connectionEnabled:  true,
	}
}

// SetOnChange registers the data-changed callback. It fires after every
// model mutation and every connectivity flag change, outside the model
// lock so the callback may read the model freely.
func (m *Model) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Update decodes one raw packet into the model.
func (m *Model) Update(buf []byte) Outcome {
	m.mu.Lock()
	outcome := m.update(buf)
	notify := m.onChange
	m.mu.Unlock()

	if outcome == AcceptedNew && notify != nil {
		notify()
	}
	return outcome
}

func (m *Model) update(buf []byte) Outcome {
	if err := protocol.Validate(buf); err != nil {
		m.log.WithError(err).Warn("Rejecting packet")
		return Rejected
	}
	if !protocol.HasEndSignature(buf) {
		// Advisory only: some firmware revisions pad the trailer.
		m.log.Warn("Packet end signature mismatch, continuing")
	}

	// Metadata decodes unconditionally for diagnostics, but is not
	// published into the model until the packet is fully accepted.
	meta, err := protocol.DecodeMetadata(buf)
	if err != nil {
		m.log.WithError(err).Warn("Rejecting packet without metadata")
		return Rejected
	}
	m.log.WithFields(logrus.Fields{
		"valid_results": meta.NumValidResults,
		"disk":          meta.DiskType(),
		"sanitizer":     meta.SanitizerType(),
	}).Debug("Decoded packet metadata")

	reportTime, err := protocol.DecodeReportTime(buf)
	if err != nil {
		m.log.WithError(err).Warn("Rejecting packet with invalid report time")
		return Rejected
	}

	// Dedup gate: the instrument keeps serving the same report until it
	// runs a new test. Re-reading it must not re-trigger downstream
	// notifications.
	if m.reportTime != nil && m.reportTime.Equal(reportTime) {
		m.log.WithField("report_time", reportTime).Debug("Duplicate report, skipping")
		return AcceptedDuplicate
	}

	entries := protocol.ScanEntries(buf)

	detected := make([]uint8, 0, len(entries))
	for _, e := range entries {
		detected = append(detected, e.ID)
	}
	series := m.effectiveSeries(detected)

	for _, e := range entries {
		m.storeEntry(e, series)
	}

	m.detectedIDs = detected
	m.reportTime = &reportTime
	m.meta = meta
	m.recomputeDerived()
	now := m.now()
	m.lastReadingTime = &now

	m.log.WithFields(logrus.Fields{
		"report_time": reportTime,
		"entries":     len(entries),
		"disk_series": series,
	}).Info("Accepted new reading")
	return AcceptedNew
}

// storeEntry validates and stores one scanned entry. Invalid values are
// dropped silently: the prior value for the key, if any, stays in place.
func (m *Model) storeEntry(e protocol.Entry, series string) {
	def, ok := m.resolveParam(e.ID, series)
	if !ok {
		m.log.WithField("param_id", e.ID).Debug("Unknown parameter id")
		return
	}
	if !e.Finite() {
		m.log.WithFields(logrus.Fields{"param_id": e.ID, "key": def.Key}).Debug("Dropping non-finite value")
		return
	}
	v := float64(e.Value)
	if v < def.MinValid || v > def.MaxValid {
		m.log.WithFields(logrus.Fields{
			"key":   def.Key,
			"value": v,
		}).Debug("Dropping out-of-range value")
		return
	}

	// The entry's own precision byte wins when plausible; garbage bytes
	// fall back to the definition's display precision.
	decimals := def.Decimals
	if e.Decimals <= 4 {
		decimals = int(e.Decimals)
	}
	m.values.Set(def.Key, roundTo(v, decimals))
}

// resolveParam maps a raw id to its definition, accounting for the 0x0D
// slot which carries phosphate instead of borate on 20x-series disks.
func (m *Model) resolveParam(id uint8, series string) (*protocol.Definition, bool) {
	if id == protocol.ParamBorate && (series == "203" || series == "204") {
		return protocol.LookupKey(protocol.KeyPhosphate)
	}
	return protocol.Lookup(id)
}

// effectiveSeries returns the configured disk series, or the auto-detected
// one when the configuration leaves it open.
func (m *Model) effectiveSeries(detected []uint8) string {
	if m.diskSeriesOverride != "" && m.diskSeriesOverride != DiskSeriesAuto {
		return m.diskSeriesOverride
	}
	return detectSeries(detected)
}

// detectSeries infers the reagent disk series from the raw ids of the most
// recent report. Bromine only appears on the 203 disk; the high-range
// calcium id 0x08 only appears on x04 disks; plain chlorine ids indicate
// the 303 disk. Returns "" when the ids are inconclusive.
func detectSeries(ids []uint8) string {
	var bromine, chlorine, highRange bool
	for _, id := range ids {
		switch id {
		case protocol.ParamBromine:
			bromine = true
		case protocol.ParamFreeChlorine, protocol.ParamTotalChlorine:
			chlorine = true
		case protocol.ParamCalciumHighRange:
			highRange = true
		}
	}
	switch {
	case bromine:
		return "203"
	case highRange:
		return "204"
	case chlorine:
		return "303"
	default:
		return ""
	}
}

// recomputeDerived refreshes the calculated sensors from the stored values.
// Derived keys are removed when their inputs are missing.
func (m *Model) recomputeDerived() {
	fc, hasFC := m.values.Get(protocol.KeyFreeChlorine)
	tc, hasTC := m.values.Get(protocol.KeyTotalChlorine)
	if hasFC && hasTC {
		m.values.Set(protocol.KeyCombinedChlorine, roundTo(math.Max(0, tc-fc), 2))
	} else {
		m.values.Delete(protocol.KeyCombinedChlorine)
	}

	cya, hasCYA := m.values.Get(protocol.KeyCyanuricAcid)
	if hasFC && hasCYA && cya > 0 {
		m.values.Set(protocol.KeyFcCyaRatio, roundTo(fc/cya*100, 1))
	} else {
		m.values.Delete(protocol.KeyFcCyaRatio)
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// SetConnected records transient link state. Not persisted, not part of
// dedup; fires the change callback when the flag actually flips.
func (m *Model) SetConnected(connected bool) {
	m.setFlag(&m.connected, connected)
}

// SetConnectionEnabled records whether the lifecycle currently permits
// connections (false during the post-read cooldown window).
func (m *Model) SetConnectionEnabled(enabled bool) {
	m.setFlag(&m.connectionEnabled, enabled)
}

func (m *Model) setFlag(field *bool, v bool) {
	m.mu.Lock()
	changed := *field != v
	*field = v
	notify := m.onChange
	m.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

// DiskSeries returns the authoritative disk series: the configured
// override when set, otherwise best-effort detection from the last report.
func (m *Model) DiskSeries() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveSeries(m.detectedIDs)
}

// Snapshot is an immutable copy of the model for hosts and publishers.
type Snapshot struct {
	// Keys lists sensor keys in first-observed order; Values holds the
	// current reading per key. A key absent from Values was never validly
	// observed and must be reported as unknown, never zero.
	Keys   []string
	Values map[string]float64

	DetectedParamIDs []uint8
	ReportTime       *time.Time
	LastReadingTime  *time.Time

	NumValidResults    int
	DiskTypeIndex      int
	SanitizerTypeIndex int
	DiskType           string
	SanitizerType      string
	DiskSeries         string

	Connected         bool
	ConnectionEnabled bool
}

// Value returns the reading for key, if present.
func (s Snapshot) Value(key string) (float64, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Snapshot copies the current model state.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Keys:               make([]string, 0, m.values.Len()),
		Values:             make(map[string]float64, m.values.Len()),
		DetectedParamIDs:   append([]uint8(nil), m.detectedIDs...),
		NumValidResults:    int(m.meta.NumValidResults),
		DiskTypeIndex:      int(m.meta.DiskTypeIndex),
		SanitizerTypeIndex: int(m.meta.SanitizerTypeIndex),
		DiskType:           m.meta.DiskType(),
		SanitizerType:      m.meta.SanitizerType(),
		DiskSeries:         m.effectiveSeries(m.detectedIDs),
		Connected:          m.connected,
		ConnectionEnabled:  m.connectionEnabled,
	}
	for pair := m.values.Oldest(); pair != nil; pair = pair.Next() {
		snap.Keys = append(snap.Keys, pair.Key)
		snap.Values[pair.Key] = pair.Value
	}
	if m.reportTime != nil {
		t := *m.reportTime
		snap.ReportTime = &t
	}
	if m.lastReadingTime != nil {
		t := *m.lastReadingTime
		snap.LastReadingTime = &t
	}
	return snap
}
