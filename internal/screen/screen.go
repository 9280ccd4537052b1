// Package screen is the headless notification demo screen: it registers for a
// push token, shows the latest notification and sends test messages.
package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CyberwizD/expo-push/internal/background"
	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform"
	"github.com/CyberwizD/expo-push/internal/reconciler"
	"github.com/CyberwizD/expo-push/internal/registration"
	"github.com/CyberwizD/expo-push/internal/services"
	"github.com/CyberwizD/expo-push/pkg/metrics"
)

var (
	ErrAlreadyMounted = errors.New("screen already mounted")
	ErrNotMounted     = errors.New("screen not mounted")
)

type Phase string

const (
	PhaseUnregistered Phase = "unregistered"
	PhaseRegistered   Phase = "registered"
	PhaseShowing      Phase = "showing"
	PhaseTornDown     Phase = "torn_down"
)

// TestMessage is the message sent by the "send notification" action.
func TestMessage(token string) models.PushMessage {
	return models.PushMessage{
		To:        token,
		Sound:     "default",
		Title:     "Sent notification through button",
		Body:      `Send through "Press to Send Notification" button!`,
		Data:      map[string]interface{}{"someLocalData": "goes here"},
		ChannelID: registration.DefaultChannelID,
	}
}

type Deps struct {
	Platform   platform.Platform
	Sender     services.PushProvider
	Background *background.Handler
	Alerter    registration.Alerter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Options struct {
	ProjectID  string
	ForceFCMv1 bool
	BufferSize int
	Clock      reconciler.Clock
	// Presentation is installed on the platform at mount. Defaults to
	// platform.DefaultPresentation.
	Presentation platform.PresentationPolicy
}

type Screen struct {
	platform   platform.Platform
	registrar  *registration.Registrar
	sender     services.PushProvider
	background *background.Handler
	alerter    registration.Alerter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	recOpts    []reconciler.Option
	present    platform.PresentationPolicy

	mu          sync.Mutex
	generation  uint64
	mounted     bool
	tornDown    bool
	token       string
	regErr      error
	channels    []platform.Channel
	forceFCMv1  bool
	lastResults []models.PushResult
	rec         *reconciler.Reconciler
	detach      func()

	wg sync.WaitGroup
}

func New(deps Deps, opts Options) *Screen {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Alerter == nil {
		deps.Alerter = registration.LogAlerter{Logger: deps.Logger}
	}

	s := &Screen{
		platform:   deps.Platform,
		registrar:  registration.NewRegistrar(deps.Platform, opts.ProjectID, deps.Alerter, deps.Logger),
		sender:     deps.Sender,
		background: deps.Background,
		alerter:    deps.Alerter,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		forceFCMv1: opts.ForceFCMv1,
	}
	s.recOpts = []reconciler.Option{
		reconciler.WithLogger(deps.Logger),
		reconciler.WithObserver(s.observe),
	}
	s.present = opts.Presentation
	if s.present == nil {
		s.present = platform.DefaultPresentation
	}
	if opts.BufferSize > 0 {
		s.recOpts = append(s.recOpts, reconciler.WithBufferSize(opts.BufferSize))
	}
	if opts.Clock != nil {
		s.recOpts = append(s.recOpts, reconciler.WithClock(opts.Clock))
	}
	return s
}

// Listen starts capturing notification events before the screen mounts, for
// hosts where events can arrive ahead of the UI. Mount picks up what was
// captured.
func (s *Screen) Listen() error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	if s.rec == nil || s.rec.State() == reconciler.StateTornDown {
		s.rec = reconciler.New(s.platform, s.recOpts...)
	}
	rec := s.rec
	s.mu.Unlock()

	return rec.Listen()
}

// Mount shows the screen. Registration and channel listing run in the
// background; their results are dropped if the screen unmounts first.
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	if s.rec == nil || s.rec.State() == reconciler.StateTornDown {
		s.rec = reconciler.New(s.platform, s.recOpts...)
	}
	s.generation++
	gen := s.generation
	s.mounted = true
	s.tornDown = false
	s.token = ""
	s.regErr = nil
	s.channels = nil
	s.lastResults = nil
	rec := s.rec
	s.mu.Unlock()

	s.platform.SetNotificationHandler(s.present)
	if err := rec.Mount(); err != nil {
		s.mu.Lock()
		s.mounted = false
		s.mu.Unlock()
		return err
	}

	if s.background != nil {
		detach := s.background.Attach(rec)
		s.mu.Lock()
		if s.current(gen) {
			s.detach, detach = detach, nil
		}
		s.mu.Unlock()
		// Unmounted while attaching.
		if detach != nil {
			detach()
			return nil
		}
	}

	s.logger.Info("screen mounted", slog.String("os", s.platform.OS()), slog.Uint64("generation", gen))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.register(ctx, gen)
		// Listed after registration so the default channel is included.
		s.loadChannels(ctx, gen)
	}()
	return nil
}

func (s *Screen) register(ctx context.Context, gen uint64) {
	token, err := s.registrar.Register(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		s.logger.Debug("discarding registration result from a previous mount", slog.Uint64("generation", gen))
		return
	}
	s.token = token
	s.regErr = err
}

func (s *Screen) loadChannels(ctx context.Context, gen uint64) {
	channels, err := s.platform.NotificationChannels(ctx)
	if err != nil {
		s.logger.Warn("failed to list notification channels", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(gen) {
		s.channels = channels
	}
}

// current must be called with s.mu held.
func (s *Screen) current(gen uint64) bool {
	return s.mounted && gen == s.generation
}

func (s *Screen) observe(d reconciler.Display, ok bool) {
	if !ok {
		s.logger.Info("notification cleared")
		return
	}
	s.metrics.IncDisplayed()
	s.logger.Info("notification displayed",
		slog.String("source", string(d.Source)),
		slog.String("title", d.Content.Title),
		slog.Uint64("seq", d.Seq),
	)
}

// Unmount removes every listener. Outstanding registration work is not
// cancelled; its result is discarded.
func (s *Screen) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	s.tornDown = true
	rec := s.rec
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	rec.Unmount()
	s.logger.Info("screen unmounted")
}

// Wait blocks until background work started by Mount has finished.
func (s *Screen) Wait() {
	s.wg.Wait()
}

func (s *Screen) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RegistrationError returns the last registration failure, if any.
func (s *Screen) RegistrationError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regErr
}

func (s *Screen) Channels() []platform.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]platform.Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

func (s *Screen) Current() (reconciler.Display, bool) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return reconciler.Display{}, false
	}
	return rec.Current()
}

// Phase reports where the screen is in its lifecycle. An unregistered
// screen reports PhaseUnregistered even while a notification is shown.
func (s *Screen) Phase() Phase {
	s.mu.Lock()
	tornDown, token, rec := s.tornDown, s.token, s.rec
	s.mu.Unlock()

	switch {
	case tornDown:
		return PhaseTornDown
	case token == "":
		return PhaseUnregistered
	case rec != nil && rec.State() == reconciler.StateShowing:
		return PhaseShowing
	default:
		return PhaseRegistered
	}
}

func (s *Screen) SetForceFCMv1(v bool) {
	s.mu.Lock()
	s.forceFCMv1 = v
	s.mu.Unlock()
}

func (s *Screen) ForceFCMv1() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceFCMv1
}

// Clear empties the displayed notification.
func (s *Screen) Clear() error {
	s.mu.Lock()
	rec, mounted := s.rec, s.mounted
	s.mu.Unlock()
	if !mounted {
		return ErrNotMounted
	}
	rec.Clear()
	return nil
}

// LastResults returns the tickets of the most recent test send.
func (s *Screen) LastResults() []models.PushResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PushResult(nil), s.lastResults...)
}

// SendTest sends TestMessage to this device's token. Failures are alerted and
// returned, never retried.
func (s *Screen) SendTest(ctx context.Context) ([]models.PushResult, error) {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return nil, ErrNotMounted
	}
	gen, token, force := s.generation, s.token, s.forceFCMv1
	s.mu.Unlock()

	if s.sender == nil {
		return nil, s.sendFailed(ctx, fmt.Errorf("%w: no push provider configured", models.ErrSend))
	}
	if token == "" {
		return nil, s.sendFailed(ctx, fmt.Errorf("%w: no push token", models.ErrSend))
	}

	msg := TestMessage(token)
	s.logger.Info("sending test notification", slog.String("to", token), slog.Bool("use_fcm_v1", force))

	results, err := s.sender.Send(ctx, &services.PushPayload{
		Messages: []models.PushMessage{msg},
		UseFCMv1: force,
	})
	if err != nil {
		return nil, s.sendFailed(ctx, err)
	}

	s.mu.Lock()
	if s.current(gen) {
		s.lastResults = results
	}
	s.mu.Unlock()
	return results, nil
}

func (s *Screen) sendFailed(ctx context.Context, err error) error {
	s.alerter.Alert(ctx, err.Error())
	s.logger.Error("test notification failed", slog.Any("error", err))
	return err
}
