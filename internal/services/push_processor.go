package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/pkg/metrics"
)

// TokenCache remembers tokens the push service reported as unreachable.
type TokenCache interface {
	IsTokenSuppressed(ctx context.Context, token string) (bool, error)
	SuppressToken(ctx context.Context, token string, ttl time.Duration) error
}

type PushProcessor struct {
	provider      PushProvider
	statusUpdater *StatusUpdater
	cache         TokenCache
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewPushProcessor(
	provider PushProvider,
	statusUpdater *StatusUpdater,
	cache TokenCache,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *PushProcessor {
	return &PushProcessor{
		provider:      provider,
		statusUpdater: statusUpdater,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
	}
}

// Process sends one request exactly once. Failures are recorded and returned
// to the caller; nothing is retried here.
func (p *PushProcessor) Process(ctx context.Context, req *models.SendRequest) error {
	p.metrics.IncConsumed()

	msg := req.Message
	if !models.IsPushToken(msg.To) {
		return p.fail(ctx, req, fmt.Errorf("%w: invalid push token %q", models.ErrSend, msg.To))
	}

	if p.cache != nil {
		suppressed, err := p.cache.IsTokenSuppressed(ctx, msg.To)
		if err != nil {
			p.logger.Error("failed to check token suppression", slog.Any("error", err))
			return err
		}
		if suppressed {
			return p.fail(ctx, req, fmt.Errorf("%w: token is not registered", models.ErrSend))
		}
	}

	msg.Title = RenderTemplate(msg.Title, req.Variables)
	msg.Body = RenderTemplate(msg.Body, req.Variables)

	p.statusUpdater.MarkProcessing(ctx, req.RequestID)
	results, err := p.provider.Send(ctx, &PushPayload{
		Messages: []models.PushMessage{msg},
		UseFCMv1: req.UseFCMv1,
	})
	if err != nil {
		p.logger.Warn("push send failed", slog.Any("error", err), slog.String("request_id", req.RequestID))
		return p.fail(ctx, req, err)
	}

	return p.handleResults(ctx, req, results)
}

func (p *PushProcessor) handleResults(ctx context.Context, req *models.SendRequest, results []models.PushResult) error {
	if len(results) == 0 {
		return p.fail(ctx, req, fmt.Errorf("%w: push service returned no tickets", models.ErrSend))
	}

	var (
		failures []string
		ticketID string
	)
	for _, res := range results {
		if res.Status == models.ResultAccepted {
			ticketID = res.TicketID
			continue
		}
		failures = append(failures, fmt.Sprintf("%s:%s", res.Token, res.Error))
		if p.cache != nil && isTokenFatal(res.Error) {
			if err := p.cache.SuppressToken(ctx, res.Token, 0); err != nil {
				p.logger.Warn("failed to suppress token", slog.Any("error", err))
			}
		}
	}

	if len(failures) > 0 {
		return p.fail(ctx, req, fmt.Errorf("%w: failed tokens: %s", models.ErrSend, strings.Join(failures, ", ")))
	}

	p.statusUpdater.MarkAccepted(ctx, req.RequestID, p.provider.Name(), ticketID)
	p.metrics.IncAccepted()
	return nil
}

func (p *PushProcessor) fail(ctx context.Context, req *models.SendRequest, err error) error {
	p.metrics.IncFailed()
	p.statusUpdater.MarkFailed(ctx, req.RequestID, p.provider.Name(), err.Error())
	return err
}

func isTokenFatal(code string) bool {
	return code == "DeviceNotRegistered"
}
