// Package reconciler folds the received, response and last-response
// notification signals into the single notification the screen displays.
package reconciler

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform"
)

type State int

const (
	// StateDetached: created, no listeners registered yet.
	StateDetached State = iota
	// StateListening: listeners registered, events are buffered until Mount.
	StateListening
	// StateWaiting: mounted, nothing to display.
	StateWaiting
	// StateShowing: mounted, a notification is displayed.
	StateShowing
	// StateTornDown: unmounted; every further signal is ignored.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateListening:
		return "listening"
	case StateWaiting:
		return "waiting"
	case StateShowing:
		return "showing"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

type Source string

const (
	SourceReceived     Source = "received"
	SourceResponse     Source = "response"
	SourceLastResponse Source = "last_response"
	SourceBackground   Source = "background"
)

// Display is the value currently shown. Seq increases with every write.
type Display struct {
	Content        models.Content `json:"content"`
	Source         Source         `json:"source"`
	NotificationID string         `json:"notification_id,omitempty"`
	Seq            uint64         `json:"seq"`
	At             time.Time      `json:"at"`
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var (
	ErrTornDown       = errors.New("reconciler: torn down")
	ErrAlreadyMounted = errors.New("reconciler: already mounted")
)

const DefaultBufferSize = 16

type Option func(*Reconciler)

func WithClock(c Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithBufferSize bounds the number of signals kept between Listen and Mount.
func WithBufferSize(n int) Option {
	return func(r *Reconciler) { r.bufferSize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithObserver registers fn to be called after every display change. fn runs
// outside the reconciler lock and may observe changes out of Seq order when
// signals race; compare Seq if ordering matters.
func WithObserver(fn func(Display, bool)) Option {
	return func(r *Reconciler) { r.observer = fn }
}

type signal struct {
	source  Source
	id      string
	content models.Content
}

type Reconciler struct {
	source     platform.EventSource
	clock      Clock
	logger     *slog.Logger
	observer   func(Display, bool)
	bufferSize int

	mu      sync.Mutex
	state   State
	pending *fifo[signal]
	current *Display
	seq     uint64
	subs    []platform.Subscription
}

func New(source platform.EventSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:     source,
		clock:      ClockFunc(time.Now),
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pending = newFIFO[signal](r.bufferSize)
	return r
}

// Listen registers the received and response listeners. Signals that arrive
// before Mount are buffered. Calling Listen again is a no-op.
func (r *Reconciler) Listen() error {
	r.mu.Lock()
	switch r.state {
	case StateTornDown:
		r.mu.Unlock()
		return ErrTornDown
	case StateDetached:
	default:
		r.mu.Unlock()
		return nil
	}
	r.state = StateListening
	r.mu.Unlock()

	received := r.source.AddReceivedListener(r.onReceived)
	response := r.source.AddResponseListener(r.onResponse)

	r.mu.Lock()
	if r.state == StateTornDown {
		// Unmount won the race; it never saw these handles.
		r.mu.Unlock()
		received.Remove()
		response.Remove()
		return ErrTornDown
	}
	r.subs = append(r.subs, received, response)
	r.mu.Unlock()
	return nil
}

// Mount makes the reconciler live. A last-known response is authoritative and
// discards anything buffered; otherwise buffered signals are replayed oldest
// first so the most recent one ends up displayed.
func (r *Reconciler) Mount() error {
	if err := r.Listen(); err != nil {
		return err
	}

	last := r.source.LastNotificationResponse()

	r.mu.Lock()
	switch r.state {
	case StateTornDown:
		r.mu.Unlock()
		return ErrTornDown
	case StateWaiting, StateShowing:
		r.mu.Unlock()
		return ErrAlreadyMounted
	}
	r.state = StateWaiting

	var changes []Display
	if last != nil {
		if n := r.pending.len(); n > 0 {
			r.logger.Debug("discarding buffered notifications, last response wins", slog.Int("count", n))
		}
		r.pending.reset()
		changes = append(changes, r.write(signal{
			source:  SourceLastResponse,
			id:      last.Notification.ID,
			content: last.Notification.Content,
		}))
	} else {
		for _, sig := range r.pending.drain() {
			changes = append(changes, r.write(sig))
		}
	}
	r.mu.Unlock()

	for _, d := range changes {
		r.notify(d, true)
	}
	return nil
}

func (r *Reconciler) onReceived(n models.Notification) {
	r.accept(signal{source: SourceReceived, id: n.ID, content: n.Content})
}

func (r *Reconciler) onResponse(resp models.NotificationResponse) {
	r.accept(signal{source: SourceResponse, id: resp.Notification.ID, content: resp.Notification.Content})
}

// Deliver writes an already normalised record, such as a reshaped background
// payload. It reports whether the record was accepted.
func (r *Reconciler) Deliver(source Source, content models.Content) bool {
	return r.accept(signal{source: source, content: content})
}

func (r *Reconciler) accept(sig signal) bool {
	r.mu.Lock()
	switch r.state {
	case StateDetached, StateTornDown:
		state := r.state
		r.mu.Unlock()
		r.logger.Debug("ignoring notification", slog.String("source", string(sig.source)), slog.String("state", state.String()))
		return false
	case StateListening:
		if r.pending.push(sig) {
			r.logger.Warn("notification buffer full, dropped oldest", slog.Int("capacity", r.bufferSize))
		}
		r.mu.Unlock()
		return true
	}
	d := r.write(sig)
	r.mu.Unlock()

	r.notify(d, true)
	return true
}

// write must be called with r.mu held.
func (r *Reconciler) write(sig signal) Display {
	r.seq++
	d := Display{
		Content:        sig.content,
		Source:         sig.source,
		NotificationID: sig.id,
		Seq:            r.seq,
		At:             r.clock.Now(),
	}
	r.current = &d
	r.state = StateShowing
	return d
}

func (r *Reconciler) notify(d Display, ok bool) {
	if r.observer != nil {
		r.observer(d, ok)
	}
}

// Current returns the displayed notification, if any.
func (r *Reconciler) Current() (Display, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Display{}, false
	}
	return *r.current, true
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending reports how many signals are buffered awaiting Mount.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.len()
}

// Clear empties the display slot while staying mounted.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	if r.state != StateShowing {
		r.mu.Unlock()
		return
	}
	r.current = nil
	r.state = StateWaiting
	r.mu.Unlock()

	r.notify(Display{}, false)
}

// Unmount tears the reconciler down and releases its subscriptions exactly
// once. The state flips before the handles are released, so a callback racing
// with Unmount is a no-op.
func (r *Reconciler) Unmount() {
	r.mu.Lock()
	if r.state == StateTornDown {
		r.mu.Unlock()
		return
	}
	r.state = StateTornDown
	subs := r.subs
	r.subs = nil
	r.pending.reset()
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Remove()
	}
	r.logger.Debug("notification listeners removed", slog.Int("count", len(subs)))
}
