package services

import (
	"context"

	"github.com/CyberwizD/expo-push/internal/models"
)

// PushPayload is the set of messages handed to a provider in one request.
type PushPayload struct {
	Messages []models.PushMessage
	// UseFCMv1 routes Android deliveries through FCM HTTP v1.
	UseFCMv1 bool
}

// PushProvider represents a downstream push service.
type PushProvider interface {
	Name() string
	Send(ctx context.Context, payload *PushPayload) ([]models.PushResult, error)
}
