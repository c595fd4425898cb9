// Package watch observes BLE advertisements and tracks when the instrument
// was last seen. The lifecycle connects off these sightings instead of
// polling, the instrument only advertises while it is awake.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/poolsense/spintouch/internal/transport"
)

// Sighting is one observed advertisement of a device.
type Sighting struct {
	Address  string
	Name     string
	RSSI     int
	LastSeen time.Time
}

// Options configures which advertisements the watcher reports.
type Options struct {
	// Address limits sightings to one device. Empty watches everything,
	// which the scan command uses for discovery listings.
	Address string

	// ServiceUUIDs, when set, requires the advertisement to carry at least
	// one of these service UUIDs.
	ServiceUUIDs []blelib.UUID

	// DuplicateFilter suppresses repeat advertisements from the same
	// device. Keep it off for lifecycle watching, repeats are the signal.
	DuplicateFilter bool
}

// SightingCallback receives every accepted sighting.
type SightingCallback func(Sighting)

// Watcher runs a BLE scan and records sightings of matching devices.
type Watcher struct {
	log       *logrus.Logger
	opts      Options
	sightings *hashmap.Map[string, Sighting]

	onSighting SightingCallback
	now        func() time.Time
}

// NewWatcher creates a watcher. The callback may be nil when only the
// sighting table is needed.
func NewWatcher(logger *logrus.Logger, opts Options, fn SightingCallback) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		log:        logger,
		opts:       opts,
		sightings:  hashmap.New[string, Sighting](),
		onSighting: fn,
		now:        time.Now,
	}
}

// Run scans until ctx is cancelled. Context cancellation is a normal stop,
// not an error.
func (w *Watcher) Run(ctx context.Context) error {
	dev, err := transport.Device()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"address": w.opts.Address,
	}).Info("Starting advertisement watch...")

	err = dev.Scan(ctx, !w.opts.DuplicateFilter, w.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}

	w.log.WithField("device_count", w.sightings.Len()).Info("Advertisement watch stopped")
	return nil
}

// handleAdvertisement records a sighting when the advertisement passes the
// configured filters.
func (w *Watcher) handleAdvertisement(adv blelib.Advertisement) {
	if !w.shouldInclude(adv) {
		return
	}

	addr := strings.ToLower(adv.Addr().String())
	s := Sighting{
		Address:  addr,
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		LastSeen: w.now(),
	}

	if prev, seen := w.sightings.Get(addr); !seen {
		w.log.WithFields(logrus.Fields{
			"device":  s.Name,
			"address": s.Address,
			"rssi":    s.RSSI,
		}).Info("Discovered device")
	} else if s.Name == "" {
		// Scan responses without a local name keep the one we already have.
		s.Name = prev.Name
	}
	w.sightings.Set(addr, s)

	if w.onSighting != nil {
		w.onSighting(s)
	}
}

func (w *Watcher) shouldInclude(adv blelib.Advertisement) bool {
	if w.opts.Address != "" && !strings.EqualFold(adv.Addr().String(), w.opts.Address) {
		return false
	}

	if len(w.opts.ServiceUUIDs) > 0 {
		found := false
		for _, required := range w.opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if required.Equal(advUUID) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// LastSeen returns when the device last advertised.
func (w *Watcher) LastSeen(address string) (time.Time, bool) {
	s, ok := w.sightings.Get(strings.ToLower(address))
	if !ok {
		return time.Time{}, false
	}
	return s.LastSeen, true
}

// Snapshot returns all recorded sightings sorted by address.
func (w *Watcher) Snapshot() []Sighting {
	result := make([]Sighting, 0, w.sightings.Len())
	w.sightings.Range(func(_ string, s Sighting) bool {
		result = append(result, s)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result
}
