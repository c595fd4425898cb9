package transport

import (
	"sync"

	"github.com/go-ble/ble"
)

var (
	deviceMu  sync.Mutex
	sharedDev ble.Device
)

// Device returns the process-wide HCI device, creating it through
// DeviceFactory on first use. The adapter's user channel is exclusive on
// Linux, so the watcher's scan and every dial must share one handle.
func Device() (ble.Device, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if sharedDev != nil {
		return sharedDev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	sharedDev = dev
	return dev, nil
}

// StopDevice stops and releases the shared device. Idempotent; the next
// Device call creates a fresh handle.
func StopDevice() error {
	deviceMu.Lock()
	dev := sharedDev
	sharedDev = nil
	deviceMu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Stop()
}
