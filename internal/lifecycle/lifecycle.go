// Package lifecycle drives the connect, listen, read, acknowledge,
// disconnect, cooldown cycle against one instrument.
//
// The instrument is battery constrained and shared with a companion phone
// app, so after every successful read the machine disconnects and refuses
// to reconnect for a cooldown window instead of holding the link open.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poolsense/spintouch/internal/groutine"
	"github.com/poolsense/spintouch/internal/metrics"
	"github.com/poolsense/spintouch/internal/protocol"
	"github.com/poolsense/spintouch/internal/reading"
	"github.com/poolsense/spintouch/internal/timer"
	"github.com/poolsense/spintouch/internal/transport"
)

// State is the lifecycle phase visible to hosts.
type State int32

const (
	// StateIdle means no session exists and the machine is eligible to
	// connect on the next sighting.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateListening means a session is up and subscribed to status
	// notifications.
	StateListening
	// StateReading means a GATT read plus parse is in flight.
	StateReading
	// StateCooldown means the machine disconnected deliberately and is
	// refusing reconnects until the reconnect timer fires.
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateReading:
		return "reading"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Timer names used with the scheduler.
const (
	TimerDisconnect = "disconnect"
	TimerReconnect  = "reconnect"
)

// Defaults for the three timing knobs.
const (
	DefaultDisconnectDelay  = 10 * time.Second
	DefaultReconnectDelay   = 300 * time.Second
	DefaultVisibilityWindow = 30 * time.Second
)

// Options configures a lifecycle instance.
type Options struct {
	// Address of the instrument.
	Address string

	// ConnectTimeout bounds each dial attempt. Zero uses the transport
	// default.
	ConnectTimeout time.Duration

	// DisconnectDelay is how long after a fresh reading the session is
	// kept open before the deliberate disconnect.
	DisconnectDelay time.Duration

	// ReconnectDelay is the cooldown window during which reconnects are
	// refused.
	ReconnectDelay time.Duration

	// VisibilityWindow is how recent a sighting must be for the reconnect
	// timer to dial immediately instead of waiting for the next
	// advertisement.
	VisibilityWindow time.Duration
}

func (o *Options) applyDefaults() {
	if o.DisconnectDelay == 0 {
		o.DisconnectDelay = DefaultDisconnectDelay
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.VisibilityWindow == 0 {
		o.VisibilityWindow = DefaultVisibilityWindow
	}
}

// Lifecycle owns the single BLE session to the instrument and the reading
// model fed from it.
type Lifecycle struct {
	log       *logrus.Logger
	opts      Options
	transport transport.Transport
	model     *reading.Model
	timers    *timer.Scheduler
	metrics   *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	// connecting is the single-flight guard: concurrent sightings must not
	// race into duplicate dial attempts.
	connecting atomic.Bool

	// readInFlight coalesces status notifications that arrive while a read
	// is still running.
	readInFlight atomic.Bool

	mu                 sync.Mutex
	state              State
	session            transport.Session
	lastSeen           time.Time
	readingPending     bool
	expectedDisconnect bool
	stayDisconnected   bool
	shutdown           bool
}

// New creates a lifecycle. metrics may be nil.
func New(logger *logrus.Logger, t transport.Transport, model *reading.Model, m *metrics.Collector, opts Options) *Lifecycle {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		log:       logger,
		opts:      opts,
		transport: t,
		model:     model,
		timers:    timer.New(logger),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CurrentReading returns a snapshot of the reading model.
func (l *Lifecycle) CurrentReading() reading.Snapshot {
	return l.model.Snapshot()
}

// HandleSighting records that the instrument advertised and connects when
// the machine is eligible. Safe to call from the watcher's scan goroutine.
func (l *Lifecycle) HandleSighting(address string, rssi int) {
	l.mu.Lock()
	l.lastSeen = time.Now()
	eligible := !l.shutdown && !l.stayDisconnected && l.state == StateIdle && l.session == nil
	l.mu.Unlock()

	if !eligible {
		l.log.WithFields(logrus.Fields{
			"address": address,
			"rssi":    rssi,
			"state":   l.State().String(),
		}).Debug("Sighting ignored")
		return
	}

	l.log.WithFields(logrus.Fields{
		"address": address,
		"rssi":    rssi,
	}).Debug("Sighting while idle, connecting")
	l.tryConnect()
}

// tryConnect starts a dial attempt unless one is already in flight.
func (l *Lifecycle) tryConnect() {
	if !l.connecting.CompareAndSwap(false, true) {
		l.log.Debug("Connection attempt already in flight, skipping")
		return
	}

	l.setState(StateConnecting)
	groutine.Go(l.ctx, "lifecycle-connect", func(ctx context.Context) {
		defer l.connecting.Store(false)
		l.connect(ctx)
	})
}

func (l *Lifecycle) connect(ctx context.Context) {
	session, err := l.transport.Connect(ctx, l.opts.Address, transport.ConnectOptions{
		ConnectTimeout: l.opts.ConnectTimeout,
	})
	if err != nil {
		l.metrics.RecordConnectFailure()
		l.log.WithError(err).Warn("Connection attempt failed")
		l.setState(StateIdle)
		return
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		_ = session.Disconnect()
		return
	}
	l.session = session
	l.state = StateListening
	l.readingPending = false
	l.expectedDisconnect = false
	l.mu.Unlock()

	l.metrics.RecordConnect()
	l.model.SetConnected(true)

	groutine.Go(l.ctx, "lifecycle-link-watch", func(context.Context) {
		<-session.Disconnected()
		l.onDisconnected()
	})

	if err := session.StartNotify(protocol.ServiceUUID, protocol.StatusCharUUID, l.onStatusNotification); err != nil {
		l.log.WithError(err).Error("Status subscription failed, dropping session")
		_ = session.Disconnect()
		return
	}

	// The instrument may already be holding a finished report. Read once
	// right away instead of waiting for the next status notification.
	l.performRead(session)
}

// onStatusNotification handles a status characteristic push. The instrument
// signals test progress here; any notification is treated as a cue to read
// the result characteristic.
func (l *Lifecycle) onStatusNotification(data []byte) {
	if len(data) > 0 {
		name, known := protocol.StatusName(data[0])
		if !known {
			name = "Unknown"
		}
		l.log.WithFields(logrus.Fields{
			"status": data[0],
			"name":   name,
		}).Debug("Status notification")
	}

	l.mu.Lock()
	session := l.session
	l.mu.Unlock()
	if session == nil {
		return
	}
	l.performRead(session)
}

// performRead reads the result characteristic and feeds it to the model.
// Overlapping triggers are coalesced: one read at a time, extra triggers
// are dropped, the instrument keeps serving the same report anyway.
func (l *Lifecycle) performRead(session transport.Session) {
	if !l.readInFlight.CompareAndSwap(false, true) {
		l.log.Debug("Read already in flight, coalescing notification")
		return
	}
	defer l.readInFlight.Store(false)

	// Reading is only entered from Listening. A disconnect timer can fire
	// between the notification and this point; its Cooldown must stand.
	if !l.enterReading() {
		l.log.WithField("state", l.State().String()).Debug("Skipping read outside listening state")
		return
	}
	defer l.restoreListening()

	data, err := session.Read(protocol.ServiceUUID, protocol.DataCharUUID)
	if err != nil {
		// A read racing a disconnect fails here; the link monitor handles
		// the fallout.
		l.log.WithError(err).Warn("Result read failed")
		return
	}

	outcome := l.model.Update(data)
	l.metrics.RecordPacket(outcome.String())

	switch outcome {
	case reading.AcceptedNew:
		if snap := l.model.Snapshot(); snap.ReportTime != nil {
			l.metrics.RecordReportTime(*snap.ReportTime)
		}
		l.acknowledge(session)

		l.mu.Lock()
		l.readingPending = true
		l.mu.Unlock()

		l.timers.Schedule(TimerDisconnect, l.opts.DisconnectDelay, l.onDisconnectTimer)
		l.log.WithField("delay", l.opts.DisconnectDelay).Info("New reading accepted, disconnect scheduled")
	default:
		l.log.WithField("outcome", outcome.String()).Debug("No new reading")
	}
}

// acknowledge tells the instrument its report was received. Best effort,
// the instrument clears its send flag on success.
func (l *Lifecycle) acknowledge(session transport.Session) {
	if err := session.Write(protocol.ServiceUUID, protocol.AckCharUUID, protocol.AckPayload); err != nil {
		l.log.WithError(err).Warn("Acknowledgment write failed")
		return
	}
	l.log.Debug("Reading acknowledged")
}

// onDisconnectTimer runs the deliberate post-read disconnect and opens the
// cooldown window.
func (l *Lifecycle) onDisconnectTimer() {
	l.mu.Lock()
	if !l.readingPending || l.shutdown {
		l.mu.Unlock()
		return
	}
	l.readingPending = false
	l.expectedDisconnect = true
	l.stayDisconnected = true
	l.state = StateCooldown
	session := l.session
	l.session = nil
	l.mu.Unlock()

	if session != nil {
		if err := session.Disconnect(); err != nil {
			l.log.WithError(err).Warn("Post-read disconnect reported an error")
		}
	}

	l.model.SetConnected(false)
	l.model.SetConnectionEnabled(false)
	l.metrics.RecordCooldown()
	l.timers.Schedule(TimerReconnect, l.opts.ReconnectDelay, l.onReconnectTimer)

	l.log.WithField("cooldown", l.opts.ReconnectDelay).Info("Disconnected for cooldown")
}

// onReconnectTimer closes the cooldown window. If the instrument advertised
// recently it is dialed immediately, otherwise the next sighting triggers
// the connect.
func (l *Lifecycle) onReconnectTimer() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.stayDisconnected = false
	l.state = StateIdle
	visible := !l.lastSeen.IsZero() && time.Since(l.lastSeen) <= l.opts.VisibilityWindow
	l.mu.Unlock()

	l.model.SetConnectionEnabled(true)
	l.log.WithField("visible", visible).Info("Cooldown ended")

	if visible {
		l.tryConnect()
	}
}

// ForceReconnect cancels any cooldown and dials immediately.
func (l *Lifecycle) ForceReconnect() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.stayDisconnected = false
	if l.state == StateCooldown {
		l.state = StateIdle
	}
	hasSession := l.session != nil
	l.mu.Unlock()

	l.timers.Cancel(TimerReconnect)
	l.model.SetConnectionEnabled(true)
	l.log.Info("Force reconnect requested")

	if !hasSession {
		l.tryConnect()
	}
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// enterReading transitions Listening to Reading and reports whether it did.
func (l *Lifecycle) enterReading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateListening {
		return false
	}
	l.state = StateReading
	return true
}

// restoreListening moves Reading back to Listening unless another
// transition already moved the machine elsewhere.
func (l *Lifecycle) restoreListening() {
	l.mu.Lock()
	if l.state == StateReading {
		l.state = StateListening
	}
	l.mu.Unlock()
}

// onDisconnected reacts to the link dropping, whether deliberate or not.
func (l *Lifecycle) onDisconnected() {
	l.mu.Lock()
	expected := l.expectedDisconnect
	l.expectedDisconnect = false
	l.session = nil
	if !expected && !l.shutdown && l.state != StateCooldown {
		l.state = StateIdle
	}
	l.mu.Unlock()

	l.model.SetConnected(false)

	if expected {
		l.log.Debug("Expected disconnect confirmed")
		return
	}
	l.log.Warn("Link dropped, waiting for next advertisement")
}

// Shutdown tears the lifecycle down: all timers cancelled, session
// disconnected, no further auto-reconnect. Terminal.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	l.expectedDisconnect = true
	session := l.session
	l.session = nil
	l.state = StateIdle
	l.mu.Unlock()

	l.timers.CancelAll()
	l.cancel()

	if session != nil {
		if err := session.Disconnect(); err != nil {
			l.log.WithError(err).Warn("Disconnect during shutdown reported an error")
		}
	}
	l.model.SetConnected(false)
	l.log.Info("Lifecycle shut down")
}
