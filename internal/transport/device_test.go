package transport

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice embeds ble.Device so only the methods the shared-device helpers
// touch need real implementations.
type fakeDevice struct {
	ble.Device
	stops int
}

func (d *fakeDevice) Stop() error {
	d.stops++
	return nil
}

func withFakeDeviceFactory(t *testing.T) *[]*fakeDevice {
	t.Helper()

	created := []*fakeDevice{}
	origFactory := DeviceFactory
	DeviceFactory = func() (ble.Device, error) {
		d := &fakeDevice{}
		created = append(created, d)
		return d, nil
	}
	t.Cleanup(func() {
		DeviceFactory = origFactory
		deviceMu.Lock()
		sharedDev = nil
		deviceMu.Unlock()
	})

	deviceMu.Lock()
	sharedDev = nil
	deviceMu.Unlock()

	return &created
}

func TestDeviceIsSharedAcrossCalls(t *testing.T) {
	created := withFakeDeviceFactory(t)

	first, err := Device()
	require.NoError(t, err)

	second, err := Device()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, *created, 1, "repeated Device calls must not open new adapter handles")
}

func TestStopDeviceReleasesHandle(t *testing.T) {
	created := withFakeDeviceFactory(t)

	dev, err := Device()
	require.NoError(t, err)

	require.NoError(t, StopDevice())
	assert.Equal(t, 1, dev.(*fakeDevice).stops)

	// Idempotent when nothing is open.
	require.NoError(t, StopDevice())
	assert.Equal(t, 1, dev.(*fakeDevice).stops)

	// A fresh handle is created on the next use.
	next, err := Device()
	require.NoError(t, err)
	assert.NotSame(t, dev, next)
	assert.Len(t, *created, 2)
}
