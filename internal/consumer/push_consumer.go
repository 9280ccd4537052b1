package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/CyberwizD/expo-push/internal/models"
)

// Processor sends one request.
type Processor interface {
	Process(ctx context.Context, req *models.SendRequest) error
}

// PushConsumer turns queued send requests into pushes. A failed send is
// dead-lettered, never requeued.
type PushConsumer struct {
	base      *BaseConsumer
	processor Processor
	logger    *slog.Logger
	now       func() time.Time
}

func NewPushConsumer(base *BaseConsumer, processor Processor, logger *slog.Logger) *PushConsumer {
	return &PushConsumer{
		base:      base,
		processor: processor,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *PushConsumer) Start(ctx context.Context) error {
	return p.base.Start(ctx, p.handleDelivery)
}

func (p *PushConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) error {
	var req models.SendRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		p.logger.Error("failed to unmarshal send request", slog.Any("error", err))
		_ = msg.Reject(false)
		return fmt.Errorf("decode send request: %w", err)
	}

	if req.RequestID == "" {
		req.RequestID = firstNonEmpty(msg.MessageId, uuid.NewString())
	}
	if req.CorrelationID == "" {
		req.CorrelationID = msg.CorrelationId
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = p.now().UTC()
	}

	if err := p.processor.Process(ctx, &req); err != nil {
		p.logger.Error("send failed, message dead-lettered",
			slog.String("request_id", req.RequestID),
			slog.String("correlation_id", req.CorrelationID),
			slog.Any("error", err),
		)
		_ = msg.Nack(false, false)
		return err
	}

	p.logger.Debug("send accepted", slog.String("request_id", req.RequestID))
	return msg.Ack(false)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
