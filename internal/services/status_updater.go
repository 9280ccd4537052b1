package services

import (
	"context"

	"log/slog"
)

const (
	StatusProcessing = "processing"
	StatusAccepted   = "accepted"
	StatusFailed     = "failed"
)

// StatusWriter persists the latest status of a send request.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, requestID, status, provider, detail string) error
}

type StatusUpdater struct {
	store  StatusWriter
	logger *slog.Logger
}

func NewStatusUpdater(store StatusWriter, logger *slog.Logger) *StatusUpdater {
	return &StatusUpdater{
		store:  store,
		logger: logger,
	}
}

func (s *StatusUpdater) MarkProcessing(ctx context.Context, requestID string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusProcessing, "", ""); err != nil {
		s.logger.Error("failed to update processing status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

// MarkAccepted records that the push service issued an ok ticket.
func (s *StatusUpdater) MarkAccepted(ctx context.Context, requestID, provider, ticketID string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusAccepted, provider, ticketID); err != nil {
		s.logger.Error("failed to update accepted status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

func (s *StatusUpdater) MarkFailed(ctx context.Context, requestID, provider, detail string) {
	if err := s.store.UpdateStatus(ctx, requestID, StatusFailed, provider, detail); err != nil {
		s.logger.Error("failed to update failed status", slog.String("request_id", requestID), slog.Any("error", err))
	}
}
