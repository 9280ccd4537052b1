package reconciler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform/memory"
	"github.com/CyberwizD/expo-push/internal/reconciler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func content(title string) models.Content {
	return models.Content{Title: title, Body: title + " body", Data: map[string]interface{}{"k": title}}
}

func TestReceivedThenResponse_LastWriteWins(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev, reconciler.WithClock(newFakeClock()))
	require.NoError(t, r.Mount())
	defer r.Unmount()

	_, ok := r.Current()
	require.False(t, ok)
	require.Equal(t, reconciler.StateWaiting, r.State())

	dev.Deliver(content("received"))
	resp := dev.Respond(content("response"))

	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, resp.Notification.Content, got.Content)
	assert.Equal(t, reconciler.SourceResponse, got.Source)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, reconciler.StateShowing, r.State())
}

func TestLastResponseSnapshot_WinsOverBuffered(t *testing.T) {
	snapshot := &models.NotificationResponse{
		ActionIdentifier: models.DefaultActionIdentifier,
		Notification:     models.Notification{ID: "launch", Content: content("launch")},
	}
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev)
	require.NoError(t, r.Listen())

	dev.Deliver(content("early-1"))
	dev.Deliver(content("early-2"))
	require.Equal(t, 2, r.Pending())

	dev.SetLastResponse(snapshot)
	require.NoError(t, r.Mount())
	defer r.Unmount()

	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, snapshot.Notification.Content, got.Content)
	assert.Equal(t, reconciler.SourceLastResponse, got.Source)
	assert.Equal(t, "launch", got.NotificationID)
	assert.Equal(t, 0, r.Pending())
}

func TestBufferedSignals_DrainedInOrder(t *testing.T) {
	dev := memory.New(memory.Options{})

	var seen []string
	r := reconciler.New(dev, reconciler.WithObserver(func(d reconciler.Display, ok bool) {
		if ok {
			seen = append(seen, d.Content.Title)
		}
	}))
	require.NoError(t, r.Listen())

	dev.Deliver(content("first"))
	dev.Respond(content("second"))
	dev.SetLastResponse(nil)

	require.NoError(t, r.Mount())
	defer r.Unmount()

	assert.Equal(t, []string{"first", "second"}, seen)
	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "second", got.Content.Title)
	assert.Equal(t, uint64(2), got.Seq)
}

func TestBuffer_IsBounded(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev, reconciler.WithBufferSize(2))
	require.NoError(t, r.Listen())

	dev.Deliver(content("a"))
	dev.Deliver(content("b"))
	dev.Deliver(content("c"))
	assert.Equal(t, 2, r.Pending())

	require.NoError(t, r.Mount())
	defer r.Unmount()

	got, _ := r.Current()
	assert.Equal(t, "c", got.Content.Title)
	assert.Equal(t, uint64(2), got.Seq)
}

func TestUnmount_IgnoresLateCallbacks(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev)
	require.NoError(t, r.Mount())

	dev.Deliver(content("before"))
	r.Unmount()

	received, responses := dev.Listeners()
	assert.Zero(t, received)
	assert.Zero(t, responses)

	assert.False(t, r.Deliver(reconciler.SourceBackground, content("late")))
	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "before", got.Content.Title)
	assert.Equal(t, reconciler.StateTornDown, r.State())

	// Unmount is idempotent.
	r.Unmount()
	assert.ErrorIs(t, r.Mount(), reconciler.ErrTornDown)
}

func TestUnmount_CallbackRacingTeardownIsNoop(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev)
	require.NoError(t, r.Mount())

	var captured func(models.Notification)
	sub := dev.AddReceivedListener(func(n models.Notification) {
		captured = func(n models.Notification) { r.Deliver(reconciler.SourceReceived, n.Content) }
	})
	dev.Deliver(content("prime"))
	sub.Remove()

	r.Unmount()
	before, _ := r.Current()
	captured(models.Notification{Content: content("stale")})
	after, _ := r.Current()
	assert.Equal(t, before, after)
}

func TestRemount_DoesNotDuplicateBufferedEntries(t *testing.T) {
	dev := memory.New(memory.Options{})

	first := reconciler.New(dev)
	require.NoError(t, first.Listen())
	dev.Deliver(content("one"))
	first.Unmount()
	assert.Equal(t, 0, first.Pending())

	second := reconciler.New(dev)
	require.NoError(t, second.Mount())
	defer second.Unmount()

	_, ok := second.Current()
	assert.False(t, ok)

	received, responses := dev.Listeners()
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, responses)
}

func TestMountTwice(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev)
	require.NoError(t, r.Mount())
	defer r.Unmount()

	assert.ErrorIs(t, r.Mount(), reconciler.ErrAlreadyMounted)
}

func TestClear(t *testing.T) {
	dev := memory.New(memory.Options{})

	var cleared bool
	r := reconciler.New(dev, reconciler.WithObserver(func(_ reconciler.Display, ok bool) {
		cleared = !ok
	}))
	require.NoError(t, r.Mount())
	defer r.Unmount()

	dev.Deliver(content("x"))
	r.Clear()

	_, ok := r.Current()
	assert.False(t, ok)
	assert.True(t, cleared)
	assert.Equal(t, reconciler.StateWaiting, r.State())

	dev.Deliver(content("y"))
	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Seq)
}

func TestDetached_IgnoresDeliver(t *testing.T) {
	r := reconciler.New(memory.New(memory.Options{}))
	assert.False(t, r.Deliver(reconciler.SourceBackground, content("x")))
	assert.Equal(t, reconciler.StateDetached, r.State())
}

func TestDisplayTimestampsComeFromClock(t *testing.T) {
	clock := newFakeClock()
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev, reconciler.WithClock(clock))
	require.NoError(t, r.Mount())
	defer r.Unmount()

	dev.Deliver(content("a"))
	a, _ := r.Current()
	dev.Deliver(content("b"))
	b, _ := r.Current()

	assert.Equal(t, time.Second, b.At.Sub(a.At))
}

func TestConcurrentSignals(t *testing.T) {
	dev := memory.New(memory.Options{})
	r := reconciler.New(dev)
	require.NoError(t, r.Mount())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				dev.Deliver(content("x"))
			}
		}()
	}
	wg.Wait()
	r.Unmount()

	got, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(400), got.Seq)
}
