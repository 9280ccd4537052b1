// Package memory implements platform.Platform as an in-process simulated
// device. The headless host drives it over HTTP and tests drive it directly.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform"
)

type Options struct {
	OS string
	// Existing is the permission status before any request.
	Existing platform.PermissionStatus
	// Requested is the status returned once the user answers the prompt.
	Requested platform.PermissionStatus
	// Token is issued by GetPushToken. Empty means a random token.
	Token string
	// TokenErr makes GetPushToken fail.
	TokenErr error
	// LastResponse is reported by LastNotificationResponse.
	LastResponse *models.NotificationResponse
}

type Device struct {
	os string

	mu           sync.RWMutex
	existing     platform.PermissionStatus
	requested    platform.PermissionStatus
	token        string
	tokenErr     error
	tokenGate    chan struct{}
	lastResponse *models.NotificationResponse
	channels     map[string]platform.Channel
	policy       platform.PresentationPolicy
	presented    []platform.Presentation

	received  map[uint64]func(models.Notification)
	responses map[uint64]func(models.NotificationResponse)
	seq       atomic.Uint64

	permissionRequests atomic.Int64
}

func New(opts Options) *Device {
	if opts.OS == "" {
		opts.OS = platform.OSAndroid
	}
	if opts.Existing == "" {
		opts.Existing = platform.PermissionUndetermined
	}
	if opts.Requested == "" {
		opts.Requested = platform.PermissionGranted
	}
	return &Device{
		os:           opts.OS,
		existing:     opts.Existing,
		requested:    opts.Requested,
		token:        opts.Token,
		tokenErr:     opts.TokenErr,
		lastResponse: opts.LastResponse,
		channels:     map[string]platform.Channel{},
		received:     map[uint64]func(models.Notification){},
		responses:    map[uint64]func(models.NotificationResponse){},
	}
}

func (d *Device) OS() string { return d.os }

func (d *Device) GetPermissions(context.Context) (platform.PermissionStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.existing, nil
}

func (d *Device) RequestPermissions(context.Context) (platform.PermissionStatus, error) {
	d.permissionRequests.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.existing = d.requested
	return d.requested, nil
}

// PermissionRequests counts how often the user was prompted.
func (d *Device) PermissionRequests() int { return int(d.permissionRequests.Load()) }

func (d *Device) SetNotificationChannel(_ context.Context, id string, channel platform.Channel) error {
	if d.os != platform.OSAndroid {
		return fmt.Errorf("notification channels are not supported on %s", d.os)
	}
	channel.ID = id
	d.mu.Lock()
	d.channels[id] = channel
	d.mu.Unlock()
	return nil
}

func (d *Device) NotificationChannels(context.Context) ([]platform.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]platform.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HoldTokens makes GetPushToken block until the returned release func is
// called, simulating a slow network.
func (d *Device) HoldTokens() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.tokenGate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *Device) GetPushToken(ctx context.Context, projectID string) (string, error) {
	d.mu.RLock()
	gate := d.tokenGate
	d.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tokenErr != nil {
		return "", d.tokenErr
	}
	if projectID == "" {
		return "", fmt.Errorf("no project id supplied")
	}
	if d.token == "" {
		d.token = "ExponentPushToken[" + uuid.NewString() + "]"
	}
	return d.token, nil
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() { s.once.Do(s.remove) }

func (d *Device) AddReceivedListener(fn func(models.Notification)) platform.Subscription {
	id := d.seq.Add(1)
	d.mu.Lock()
	d.received[id] = fn
	d.mu.Unlock()
	return &subscription{remove: func() {
		d.mu.Lock()
		delete(d.received, id)
		d.mu.Unlock()
	}}
}

func (d *Device) AddResponseListener(fn func(models.NotificationResponse)) platform.Subscription {
	id := d.seq.Add(1)
	d.mu.Lock()
	d.responses[id] = fn
	d.mu.Unlock()
	return &subscription{remove: func() {
		d.mu.Lock()
		delete(d.responses, id)
		d.mu.Unlock()
	}}
}

func (d *Device) LastNotificationResponse() *models.NotificationResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastResponse == nil {
		return nil
	}
	resp := *d.lastResponse
	return &resp
}

// Listeners reports the number of registered received and response listeners.
func (d *Device) Listeners() (received, responses int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.received), len(d.responses)
}

func (d *Device) SetNotificationHandler(policy platform.PresentationPolicy) {
	d.mu.Lock()
	d.policy = policy
	d.mu.Unlock()
}

// Presented returns the presentation chosen for every delivered notification,
// oldest first. Notifications delivered without a policy present nothing.
func (d *Device) Presented() []platform.Presentation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]platform.Presentation(nil), d.presented...)
}

// Deliver consults the presentation policy, then emits a foreground
// "received" event to every listener in registration order.
func (d *Device) Deliver(content models.Content) models.Notification {
	n := models.Notification{
		ID:      uuid.NewString(),
		Date:    time.Now().UTC(),
		Content: content,
	}

	d.mu.RLock()
	policy := d.policy
	d.mu.RUnlock()
	var shown platform.Presentation
	if policy != nil {
		shown = policy(n)
	}
	d.mu.Lock()
	d.presented = append(d.presented, shown)
	d.mu.Unlock()

	for _, fn := range d.receivedSnapshot() {
		fn(n)
	}
	return n
}

// Respond emits a user-interaction event and records it as the last response.
func (d *Device) Respond(content models.Content) models.NotificationResponse {
	resp := models.NotificationResponse{
		ActionIdentifier: models.DefaultActionIdentifier,
		Notification: models.Notification{
			ID:      uuid.NewString(),
			Date:    time.Now().UTC(),
			Content: content,
		},
	}
	d.mu.Lock()
	last := resp
	d.lastResponse = &last
	d.mu.Unlock()
	for _, fn := range d.responseSnapshot() {
		fn(resp)
	}
	return resp
}

// SetLastResponse replaces the launch response without notifying listeners.
func (d *Device) SetLastResponse(resp *models.NotificationResponse) {
	d.mu.Lock()
	d.lastResponse = resp
	d.mu.Unlock()
}

// Snapshots are taken so callbacks run without holding the device lock.
func (d *Device) receivedSnapshot() []func(models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]uint64, 0, len(d.received))
	for id := range d.received {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(models.Notification), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.received[id])
	}
	return out
}

func (d *Device) responseSnapshot() []func(models.NotificationResponse) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]uint64, 0, len(d.responses))
	for id := range d.responses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(models.NotificationResponse), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.responses[id])
	}
	return out
}
