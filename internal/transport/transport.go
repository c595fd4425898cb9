// Package transport abstracts the BLE link to the instrument. The lifecycle
// talks to a Transport and a Session only, so tests and future backends can
// swap the radio without touching connection logic.
package transport

import (
	"context"
	"strings"
	"time"
)

// DefaultConnectTimeout bounds dialing plus profile discovery.
const DefaultConnectTimeout = 10 * time.Second

// ConnectOptions configures a single connection attempt.
type ConnectOptions struct {
	// ConnectTimeout bounds the dial and discovery phase. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Transport dials devices and hands back live sessions.
type Transport interface {
	// Connect dials the device and discovers its GATT profile. The returned
	// Session is ready for reads, writes and notifications.
	Connect(ctx context.Context, address string, opts ConnectOptions) (Session, error)
}

// Session is one live link to a device. Implementations are safe for
// concurrent use. A session is single-shot: once disconnected it cannot be
// revived, the caller dials again through the Transport.
type Session interface {
	// StartNotify subscribes to a characteristic. fn runs on the transport's
	// notification goroutine; the data slice is only valid for the duration
	// of the call and must be copied to be retained.
	StartNotify(serviceUUID, charUUID string, fn func(data []byte)) error

	// Read reads the current value of a characteristic.
	Read(serviceUUID, charUUID string) ([]byte, error)

	// Write writes data to a characteristic with response.
	Write(serviceUUID, charUUID string, data []byte) error

	// Disconnect tears the link down. Idempotent.
	Disconnect() error

	// Disconnected is closed when the link drops, whether requested or not.
	Disconnected() <-chan struct{}
}

// NormalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes). Handles both dashed and already normalized input.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
