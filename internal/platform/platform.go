// Package platform describes the device-side notification APIs the screen
// depends on: permissions, Android channels, token issuance and the
// received/response event streams.
package platform

import (
	"context"

	"github.com/CyberwizD/expo-push/internal/models"
)

type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

const (
	OSAndroid = "android"
	OSIOS     = "ios"
	OSWeb     = "web"
)

// Importance mirrors the Android notification channel importance levels.
type Importance int

const (
	ImportanceUnspecified Importance = iota
	ImportanceNone
	ImportanceMin
	ImportanceLow
	ImportanceDefault
	ImportanceHigh
	ImportanceMax
)

// Channel is an Android notification channel.
type Channel struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Importance       Importance `json:"importance"`
	VibrationPattern []int      `json:"vibration_pattern,omitempty"`
	LightColor       string     `json:"light_color,omitempty"`
}

type Permissions interface {
	GetPermissions(ctx context.Context) (PermissionStatus, error)
	RequestPermissions(ctx context.Context) (PermissionStatus, error)
}

type Channels interface {
	SetNotificationChannel(ctx context.Context, id string, channel Channel) error
	NotificationChannels(ctx context.Context) ([]Channel, error)
}

type TokenProvider interface {
	// GetPushToken resolves with a push token bound to projectID.
	GetPushToken(ctx context.Context, projectID string) (string, error)
}

// Subscription is the handle returned when a listener is registered.
// Remove is safe to call more than once.
type Subscription interface {
	Remove()
}

type EventSource interface {
	AddReceivedListener(fn func(models.Notification)) Subscription
	AddResponseListener(fn func(models.NotificationResponse)) Subscription
	// LastNotificationResponse returns the response that launched or resumed
	// the app, or nil.
	LastNotificationResponse() *models.NotificationResponse
}

// Presentation is how a notification received while the app is in the
// foreground is shown.
type Presentation struct {
	ShowAlert bool `json:"show_alert"`
	PlaySound bool `json:"play_sound"`
	SetBadge  bool `json:"set_badge"`
}

// PresentationPolicy decides the Presentation of each foreground notification.
type PresentationPolicy func(models.Notification) Presentation

// DefaultPresentation shows the alert and plays the sound, leaving the badge alone.
func DefaultPresentation(models.Notification) Presentation {
	return Presentation{ShowAlert: true, PlaySound: true}
}

type Presenter interface {
	// SetNotificationHandler replaces the foreground policy. A nil policy
	// presents nothing.
	SetNotificationHandler(policy PresentationPolicy)
}

type Platform interface {
	Permissions
	Channels
	TokenProvider
	EventSource
	Presenter
	OS() string
}
