package registration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform"
)

// DefaultChannelID is the Android channel every message from the sample targets.
const DefaultChannelID = "default"

// DefaultChannel returns the channel configured on Android before asking for a token.
func DefaultChannel() platform.Channel {
	return platform.Channel{
		ID:               DefaultChannelID,
		Name:             "default",
		Importance:       platform.ImportanceMax,
		VibrationPattern: []int{0, 250, 250, 250},
		LightColor:       "#FF231F7C",
	}
}

// Alerter shows a blocking, user-facing message.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// LogAlerter is the Alerter used where no UI is available.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a LogAlerter) Alert(_ context.Context, message string) {
	a.Logger.Warn("alert", slog.String("message", message))
}

type Registrar struct {
	platform  platform.Platform
	projectID string
	alerter   Alerter
	logger    *slog.Logger
}

func NewRegistrar(p platform.Platform, projectID string, alerter Alerter, logger *slog.Logger) *Registrar {
	if alerter == nil {
		alerter = LogAlerter{Logger: logger}
	}
	return &Registrar{
		platform:  p,
		projectID: strings.TrimSpace(projectID),
		alerter:   alerter,
		logger:    logger,
	}
}

// Register asks for notification permission and resolves with a push token.
// Failures are alerted, logged and returned; the token is empty in that case.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	osName := r.platform.OS()

	if osName == platform.OSAndroid {
		r.logger.Debug("setting notification channel", slog.String("os", osName), slog.String("channel", DefaultChannelID))
		if err := r.platform.SetNotificationChannel(ctx, DefaultChannelID, DefaultChannel()); err != nil {
			r.logger.Warn("failed to set notification channel", slog.String("os", osName), slog.Any("error", err))
		}
	}

	status, err := r.platform.GetPermissions(ctx)
	if err != nil {
		return "", r.fail(ctx, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err))
	}
	if status != platform.PermissionGranted {
		status, err = r.platform.RequestPermissions(ctx)
		if err != nil {
			return "", r.fail(ctx, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err))
		}
	}
	if status != platform.PermissionGranted {
		return "", r.fail(ctx, fmt.Errorf("%w (status %s)", models.ErrPermissionDenied, status))
	}

	if r.projectID == "" {
		return "", r.fail(ctx, models.ErrMissingProjectConfiguration)
	}

	token, err := r.platform.GetPushToken(ctx, r.projectID)
	if err != nil {
		return "", r.fail(ctx, fmt.Errorf("%w: %v", models.ErrTokenFetch, err))
	}
	if token == "" {
		return "", r.fail(ctx, fmt.Errorf("%w: empty token", models.ErrTokenFetch))
	}

	r.logger.Info("got push token", slog.String("os", osName), slog.String("token", token))
	return token, nil
}

func (r *Registrar) fail(ctx context.Context, err error) error {
	r.alerter.Alert(ctx, err.Error())
	r.logger.Error("push registration failed", slog.String("os", r.platform.OS()), slog.Any("error", err))
	return err
}
