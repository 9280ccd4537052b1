package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/reconciler"
)

// NotificationTask is the task the OS runs for data-only notifications.
const NotificationTask = "BACKGROUND-NOTIFICATION-TASK"

type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// StateTracker holds the host application's lifecycle state.
type StateTracker struct {
	state  atomic.Value
	logger *slog.Logger
}

func NewStateTracker(initial AppState, logger *slog.Logger) *StateTracker {
	t := &StateTracker{logger: logger}
	t.state.Store(initial)
	return t
}

func (t *StateTracker) Get() AppState {
	return t.state.Load().(AppState)
}

func (t *StateTracker) Set(next AppState) {
	prev := t.state.Swap(next).(AppState)
	if prev != next {
		t.logger.Info("app state changed", slog.String("from", string(prev)), slog.String("to", string(next)))
	}
}

// Sink receives reshaped payloads; the mounted reconciler is one.
type Sink interface {
	Deliver(source reconciler.Source, content models.Content) bool
}

// Handler is the NotificationTask implementation.
type Handler struct {
	state  func() AppState
	logger *slog.Logger

	mu     sync.Mutex
	sink   Sink
	sinkID uint64
}

func NewHandler(state func() AppState, logger *slog.Logger) *Handler {
	return &Handler{state: state, logger: logger}
}

// Attach routes reshaped payloads to s until the returned detach func runs.
// Detaching after another sink was attached leaves the newer one in place.
func (h *Handler) Attach(s Sink) (detach func()) {
	h.mu.Lock()
	h.sinkID++
	id := h.sinkID
	h.sink = s
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.sinkID == id {
			h.sink = nil
		}
	}
}

// Attached reports whether a sink currently receives payloads.
func (h *Handler) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink != nil
}

func (h *Handler) Run(_ context.Context, body TaskBody) error {
	state := h.state()
	h.logger.Info("background notification task invoked", slog.String("app_state", string(state)))

	if body.Error != "" {
		return fmt.Errorf("%w: %s", models.ErrBackgroundTask, body.Error)
	}

	if state != AppStateInactive && state != AppStateBackground {
		h.logger.Info("app not in background state, skipping task", slog.String("app_state", string(state)))
		return nil
	}

	content, err := Reshape(body.Data)
	if err != nil {
		return err
	}
	h.logger.Info("received a notification in the background",
		slog.String("title", content.Title),
		slog.String("body", content.Body),
	)

	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		h.logger.Debug("no screen mounted, background notification logged only")
		return nil
	}
	if !sink.Deliver(reconciler.SourceBackground, content) {
		h.logger.Debug("screen ignored background notification")
	}
	return nil
}
