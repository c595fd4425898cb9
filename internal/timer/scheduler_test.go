package timer

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger)
}

func TestScheduleFires(t *testing.T) {
	s := newTestScheduler()
	fired := make(chan struct{})

	s.Schedule("disconnect", 10*time.Millisecond, func() { close(fired) })
	assert.True(t, s.IsActive("disconnect"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, s.IsActive("disconnect"))
}

func TestScheduleRestarts(t *testing.T) {
	s := newTestScheduler()
	var first, second atomic.Int32
	fired := make(chan struct{})

	s.Schedule("reconnect", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("reconnect", 40*time.Millisecond, func() {
		second.Add(1)
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("replacement timer did not fire")
	}

	// Give the superseded callback a chance to run if the restart leaked it.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestCancel(t *testing.T) {
	s := newTestScheduler()
	var fired atomic.Bool

	s.Schedule("disconnect", 20*time.Millisecond, func() { fired.Store(true) })
	require.True(t, s.Cancel("disconnect"))
	assert.False(t, s.IsActive("disconnect"))
	assert.False(t, s.Cancel("disconnect"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCancelAll(t *testing.T) {
	s := newTestScheduler()
	var fired atomic.Int32

	s.Schedule("a", 20*time.Millisecond, func() { fired.Add(1) })
	s.Schedule("b", 20*time.Millisecond, func() { fired.Add(1) })
	s.CancelAll()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, s.IsActive("a"))
	assert.False(t, s.IsActive("b"))
}

// The registration must be gone before the callback runs, so a callback
// can re-arm its own name without the new timer being clobbered.
func TestReentrantScheduleFromCallback(t *testing.T) {
	s := newTestScheduler()
	done := make(chan struct{})

	s.Schedule("cycle", 10*time.Millisecond, func() {
		assert.False(t, s.IsActive("cycle"))
		s.Schedule("cycle", 10*time.Millisecond, func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-scheduled timer did not fire")
	}
}

func TestIndependentNames(t *testing.T) {
	s := newTestScheduler()
	fired := make(chan string, 2)

	s.Schedule("disconnect", 10*time.Millisecond, func() { fired <- "disconnect" })
	s.Schedule("reconnect", 20*time.Millisecond, func() { fired <- "reconnect" })

	assert.Equal(t, "disconnect", <-fired)
	assert.Equal(t, "reconnect", <-fired)
}
