package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/poolsense/spintouch/internal/groutine"
)

// BLETransport dials devices through the go-ble stack.
type BLETransport struct {
	log *logrus.Logger
}

// NewBLETransport creates a transport backed by the platform HCI device.
func NewBLETransport(logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{log: logger}
}

// Connect dials the device, discovers its GATT profile and returns a live
// session. The profile must be fully discovered before any characteristic
// operation, the instrument rejects early GATT traffic.
func (t *BLETransport) Connect(ctx context.Context, address string, opts ConnectOptions) (Session, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	t.log.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	// The adapter handle is shared with the advertisement watcher; dialing
	// must never open a second one.
	if _, err := Device(); err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to connect to device with address %q: %w", address, err))
	}

	t.log.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}

	s := &bleSession{
		log:     t.log,
		client:  client,
		address: address,
		chars:   make(map[string]*ble.Characteristic),
		done:    make(chan struct{}),
	}

	for _, svc := range profile.Services {
		svcUUID := NormalizeUUID(svc.UUID.String())
		for _, char := range svc.Characteristics {
			charUUID := NormalizeUUID(char.UUID.String())
			s.chars[svcUUID+"/"+charUUID] = char
			t.log.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic UUID")
		}
	}

	// Surface link drops from the stack as a closed Disconnected channel,
	// whether the peer dropped us or Disconnect was called.
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			<-watcher.Disconnected()
			s.markDisconnected()
		})
	} else {
		t.log.Debug("Client does not expose a Disconnected() channel")
	}

	t.log.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(s.chars),
	}).Info("BLE device connected successfully")
	return s, nil
}

// bleSession is one live go-ble connection.
type bleSession struct {
	log     *logrus.Logger
	address string

	mu     sync.Mutex
	client ble.Client
	chars  map[string]*ble.Characteristic

	closeOnce sync.Once
	done      chan struct{}
}

func (s *bleSession) lookup(serviceUUID, charUUID string) (*ble.Characteristic, error) {
	key := NormalizeUUID(serviceUUID) + "/" + NormalizeUUID(charUUID)
	char, ok := s.chars[key]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return char, nil
}

func (s *bleSession) liveClient() (ble.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

func (s *bleSession) StartNotify(serviceUUID, charUUID string, fn func(data []byte)) error {
	char, err := s.lookup(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	client, err := s.liveClient()
	if err != nil {
		return err
	}

	if err := NormalizeError(client.Subscribe(char, false, fn)); err != nil {
		s.log.WithFields(logrus.Fields{
			"char_uuid": charUUID,
			"error":     err,
		}).Error("Failed to subscribe to characteristic notifications")
		return fmt.Errorf("subscribe to %s failed: %w", charUUID, err)
	}

	s.log.WithFields(logrus.Fields{
		"service_uuid": serviceUUID,
		"char_uuid":    charUUID,
	}).Info("Subscribed to characteristic notifications")
	return nil
}

func (s *bleSession) Read(serviceUUID, charUUID string) ([]byte, error) {
	char, err := s.lookup(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	client, err := s.liveClient()
	if err != nil {
		return nil, err
	}

	data, err := client.ReadCharacteristic(char)
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to read characteristic %s: %w", charUUID, err))
	}
	return data, nil
}

func (s *bleSession) Write(serviceUUID, charUUID string, data []byte) error {
	char, err := s.lookup(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	client, err := s.liveClient()
	if err != nil {
		return err
	}

	if err := client.WriteCharacteristic(char, data, false); err != nil {
		return NormalizeError(fmt.Errorf("failed to write characteristic %s: %w", charUUID, err))
	}
	return nil
}

func (s *bleSession) Disconnect() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		s.log.Debug("Disconnect called but already disconnected")
		return nil
	}

	s.log.WithField("address", s.address).Info("Disconnecting BLE device...")

	// Best effort: drop remote notifications before cutting the link.
	for key, char := range s.chars {
		if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
			continue
		}
		if err := client.Unsubscribe(char, false); err != nil {
			s.log.WithFields(logrus.Fields{
				"char": key,
				"err":  err,
			}).Debug("Unsubscribe failed during disconnect")
		}
	}

	err := client.CancelConnection()
	s.markDisconnected()

	if err != nil {
		s.log.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	s.log.Info("BLE device disconnected successfully")
	return nil
}

func (s *bleSession) Disconnected() <-chan struct{} {
	return s.done
}

func (s *bleSession) markDisconnected() {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// compile-time interface checks
var (
	_ Transport = (*BLETransport)(nil)
	_ Session   = (*bleSession)(nil)
)
