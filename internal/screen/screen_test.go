package screen_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CyberwizD/expo-push/internal/background"
	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform"
	"github.com/CyberwizD/expo-push/internal/platform/memory"
	"github.com/CyberwizD/expo-push/internal/reconciler"
	"github.com/CyberwizD/expo-push/internal/screen"
	"github.com/CyberwizD/expo-push/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest servers keep idle keep-alive connections around until closed.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) Alert(_ context.Context, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *recordingAlerter) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	dev     *memory.Device
	alerts  *recordingAlerter
	handler *background.Handler
	screen  *screen.Screen
}

func newFixture(t *testing.T, opts memory.Options, sender services.PushProvider) *fixture {
	t.Helper()
	f := &fixture{
		dev:     memory.New(opts),
		alerts:  &recordingAlerter{},
		handler: background.NewHandler(func() background.AppState { return background.AppStateBackground }, discardLogger()),
	}
	f.screen = screen.New(screen.Deps{
		Platform:   f.dev,
		Sender:     sender,
		Background: f.handler,
		Alerter:    f.alerts,
		Logger:     discardLogger(),
	}, screen.Options{ProjectID: "project-1"})
	return f
}

func TestMountRegistersAndShowsNotifications(t *testing.T) {
	f := newFixture(t, memory.Options{Token: "ExponentPushToken[dev]"}, nil)

	assert.Equal(t, screen.PhaseUnregistered, f.screen.Phase())
	require.NoError(t, f.screen.Mount(context.Background()))
	f.screen.Wait()

	assert.Equal(t, "ExponentPushToken[dev]", f.screen.Token())
	assert.NoError(t, f.screen.RegistrationError())
	assert.Equal(t, screen.PhaseRegistered, f.screen.Phase())
	require.Len(t, f.screen.Channels(), 1)
	assert.Equal(t, "default", f.screen.Channels()[0].ID)

	f.dev.Deliver(models.Content{Title: "received"})
	resp := f.dev.Respond(models.Content{Title: "response"})

	got, ok := f.screen.Current()
	require.True(t, ok)
	assert.Equal(t, resp.Notification.Content, got.Content)
	assert.Equal(t, screen.PhaseShowing, f.screen.Phase())

	require.NoError(t, f.screen.Clear())
	_, ok = f.screen.Current()
	assert.False(t, ok)

	f.screen.Unmount()
	assert.Equal(t, screen.PhaseTornDown, f.screen.Phase())
	received, responses := f.dev.Listeners()
	assert.Zero(t, received+responses)
}

func TestMountInstallsPresentationPolicy(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)

	f.dev.Deliver(models.Content{Title: "before mount"})
	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()
	f.dev.Deliver(models.Content{Title: "after mount"})

	assert.Equal(t, []platform.Presentation{
		{},
		{ShowAlert: true, PlaySound: true},
	}, f.dev.Presented())
}

func TestCustomPresentationPolicy(t *testing.T) {
	dev := memory.New(memory.Options{})
	quiet := func(n models.Notification) platform.Presentation {
		return platform.Presentation{ShowAlert: n.Content.Title != "", SetBadge: true}
	}
	s := screen.New(screen.Deps{Platform: dev, Logger: discardLogger()}, screen.Options{ProjectID: "p", Presentation: quiet})

	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()
	s.Wait()
	dev.Deliver(models.Content{Title: "t"})
	dev.Deliver(models.Content{Body: "untitled"})

	assert.Equal(t, []platform.Presentation{
		{ShowAlert: true, SetBadge: true},
		{SetBadge: true},
	}, dev.Presented())
}

func TestLateTokenAfterUnmountIsDiscarded(t *testing.T) {
	f := newFixture(t, memory.Options{Token: "ExponentPushToken[late]"}, nil)
	release := f.dev.HoldTokens()

	require.NoError(t, f.screen.Mount(context.Background()))
	f.screen.Unmount()
	release()
	f.screen.Wait()

	assert.Empty(t, f.screen.Token())
	assert.Equal(t, screen.PhaseTornDown, f.screen.Phase())
}

func TestPermissionDeniedKeepsReconcilerRunning(t *testing.T) {
	f := newFixture(t, memory.Options{Requested: platform.PermissionDenied}, nil)

	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()

	assert.Empty(t, f.screen.Token())
	assert.ErrorIs(t, f.screen.RegistrationError(), models.ErrPermissionDenied)
	assert.Len(t, f.alerts.all(), 1)

	f.dev.Deliver(models.Content{Title: "still shown"})
	got, ok := f.screen.Current()
	require.True(t, ok)
	assert.Equal(t, "still shown", got.Content.Title)
	assert.Equal(t, screen.PhaseUnregistered, f.screen.Phase())
}

func TestListenBeforeMountReplaysBufferedEvents(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)

	require.NoError(t, f.screen.Listen())
	f.dev.Deliver(models.Content{Title: "early"})

	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()

	got, ok := f.screen.Current()
	require.True(t, ok)
	assert.Equal(t, "early", got.Content.Title)
	assert.Equal(t, reconciler.SourceReceived, got.Source)
}

func TestRemountStartsFresh(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)

	require.NoError(t, f.screen.Mount(context.Background()))
	assert.ErrorIs(t, f.screen.Mount(context.Background()), screen.ErrAlreadyMounted)
	f.dev.Deliver(models.Content{Title: "first mount"})
	f.screen.Unmount()
	f.screen.Wait()

	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()

	_, ok := f.screen.Current()
	assert.False(t, ok)
	received, responses := f.dev.Listeners()
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, responses)
}

func TestBackgroundPayloadReachesMountedScreenOnly(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)
	body := background.TaskBody{Data: map[string]interface{}{
		"data": map[string]interface{}{"message": "bg body", "body": `{"k":"v"}`},
	}}

	require.NoError(t, f.screen.Mount(context.Background()))
	f.screen.Wait()
	require.NoError(t, f.handler.Run(context.Background(), body))

	got, ok := f.screen.Current()
	require.True(t, ok)
	assert.Equal(t, reconciler.SourceBackground, got.Source)
	assert.Equal(t, "bg body", got.Content.Body)
	assert.Equal(t, map[string]interface{}{"k": "v"}, got.Content.Data)

	f.screen.Unmount()
	body.Data["data"].(map[string]interface{})["message"] = "after unmount"
	require.NoError(t, f.handler.Run(context.Background(), body))

	got, _ = f.screen.Current()
	assert.Equal(t, "bg body", got.Content.Body)
}

func TestUnmountRacingMountLeavesNoSinkAttached(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)

	for i := 0; i < 200; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.screen.Unmount()
		}()
		_ = f.screen.Mount(context.Background())
		<-done
		f.screen.Unmount()
		f.screen.Wait()

		require.False(t, f.handler.Attached(), "iteration %d", i)
		assert.Equal(t, screen.PhaseTornDown, f.screen.Phase())
	}
	received, responses := f.dev.Listeners()
	assert.Zero(t, received+responses)
}

func TestSendTest(t *testing.T) {
	var (
		mu    sync.Mutex
		query string
		sent  map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		query = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&sent)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"status":"ok","id":"ticket"}}`)
	}))
	defer srv.Close()

	sender := services.NewExpoProvider(services.ExpoOptions{Endpoint: srv.URL}, discardLogger())
	f := newFixture(t, memory.Options{Token: "ExponentPushToken[me]"}, sender)

	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()

	f.screen.SetForceFCMv1(true)
	results, err := f.screen.SendTest(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ticket", results[0].TicketID)
	assert.Equal(t, results, f.screen.LastResults())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "useFcmV1=true", query)
	want, err := json.Marshal(screen.TestMessage("ExponentPushToken[me]"))
	require.NoError(t, err)
	var wantMap map[string]interface{}
	require.NoError(t, json.Unmarshal(want, &wantMap))
	assert.Equal(t, wantMap, sent)
}

func TestSendTestWithoutTokenAlerts(t *testing.T) {
	f := newFixture(t, memory.Options{Requested: platform.PermissionDenied}, services.NewExpoProvider(services.ExpoOptions{}, discardLogger()))

	require.NoError(t, f.screen.Mount(context.Background()))
	defer f.screen.Unmount()
	f.screen.Wait()

	_, err := f.screen.SendTest(context.Background())
	assert.ErrorIs(t, err, models.ErrSend)
	assert.Len(t, f.alerts.all(), 2)
}

func TestSendTestRequiresMount(t *testing.T) {
	f := newFixture(t, memory.Options{}, nil)
	_, err := f.screen.SendTest(context.Background())
	assert.ErrorIs(t, err, screen.ErrNotMounted)
	assert.ErrorIs(t, f.screen.Clear(), screen.ErrNotMounted)
}
