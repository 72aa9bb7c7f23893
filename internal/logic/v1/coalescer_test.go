package v1

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

type writeRecorder struct {
	mu     sync.Mutex
	writes []recordedPatch
}

func (w *writeRecorder) write(key string, patch domain.Patch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedPatch{ID: key, Patch: patch})
}

func (w *writeRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *writeRecorder) all() []recordedPatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedPatch(nil), w.writes...)
}

func TestCoalescerCollapsesBurstIntoLastValue(t *testing.T) {
	rec := &writeRecorder{}
	c := NewCoalescer(50*time.Millisecond, rec.write)
	defer c.Close()

	for _, v := range []string{"Ana", "Anaa", "Anaya"} {
		c.Schedule("fullName", domain.Patch{"fullName": v})
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	// Quiet period over: no further writes may appear.
	time.Sleep(80 * time.Millisecond)
	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, domain.Patch{"fullName": "Anaya"}, writes[0].Patch)
}

func TestCoalescerKeysDebounceIndependently(t *testing.T) {
	rec := &writeRecorder{}
	c := NewCoalescer(30*time.Millisecond, rec.write)
	defer c.Close()

	c.Schedule("fullName", domain.Patch{"fullName": "Ana"})
	c.Schedule("phone", domain.Patch{"phone": "555-0100"})

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	keys := map[string]bool{}
	for _, w := range rec.all() {
		keys[w.ID] = true
	}
	assert.True(t, keys["fullName"])
	assert.True(t, keys["phone"])
}

func TestCoalescerImmediateBypassesDebounce(t *testing.T) {
	rec := &writeRecorder{}
	c := NewCoalescer(time.Minute, rec.write)
	defer c.Close()

	c.ScheduleImmediate("darkMode", domain.Patch{"darkMode": true})

	require.Equal(t, 1, rec.count(), "immediate write must happen synchronously")
	assert.Equal(t, domain.Patch{"darkMode": true}, rec.all()[0].Patch)
}

func TestCoalescerImmediateSupersedesPendingTimer(t *testing.T) {
	rec := &writeRecorder{}
	c := NewCoalescer(30*time.Millisecond, rec.write)
	defer c.Close()

	c.Schedule("language", domain.Patch{"language": "es"})
	c.ScheduleImmediate("language", domain.Patch{"language": "pt"})

	time.Sleep(60 * time.Millisecond)
	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, domain.Patch{"language": "pt"}, writes[0].Patch)
}

func TestCoalescerCloseCancelsPendingTimers(t *testing.T) {
	rec := &writeRecorder{}
	c := NewCoalescer(20*time.Millisecond, rec.write)

	c.Schedule("fullName", domain.Patch{"fullName": "Ana"})
	c.Schedule("phone", domain.Patch{"phone": "555-0100"})
	require.Equal(t, 2, c.Pending())

	c.Close()
	assert.Equal(t, 0, c.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count(), "no write may fire after teardown")

	// Scheduling after close is a no-op.
	c.Schedule("phone", domain.Patch{"phone": "x"})
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestCoalescerCloseWaitsForInFlightImmediateWrite(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewCoalescer(time.Minute, func(string, domain.Patch) {
		close(started)
		<-release
	})

	go c.ScheduleImmediate("darkMode", domain.Patch{"darkMode": true})
	<-started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an immediate write was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the write finished")
	}

	// Immediate writes after close are dropped.
	c.ScheduleImmediate("language", domain.Patch{"language": "es"})
}
