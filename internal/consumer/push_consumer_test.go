package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CyberwizD/expo-push/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ackRecord struct {
	acked    bool
	nacked   bool
	rejected bool
	requeue  bool
}

type fakeAcknowledger struct {
	mu   sync.Mutex
	acks map[uint64]*ackRecord
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{acks: map[uint64]*ackRecord{}}
}

func (f *fakeAcknowledger) record(tag uint64) *ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.acks[tag]; ok {
		return r
	}
	r := &ackRecord{}
	f.acks[tag] = r
	return r
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.record(tag).acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	r := f.record(tag)
	r.nacked, r.requeue = true, requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	r := f.record(tag)
	r.rejected, r.requeue = true, requeue
	return nil
}

type fakeProcessor struct {
	mu   sync.Mutex
	err  error
	seen []models.SendRequest
}

func (f *fakeProcessor) Process(_ context.Context, req *models.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, *req)
	return f.err
}

func (f *fakeProcessor) requests() []models.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SendRequest(nil), f.seen...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newConsumer(proc Processor) *PushConsumer {
	base := NewBaseConsumer(nil, Options{Queue: "push.queue", Workers: 2}, discardLogger())
	c := NewPushConsumer(base, proc, discardLogger())
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func TestHandleDelivery_AcksOnSuccess(t *testing.T) {
	proc := &fakeProcessor{}
	ack := newFakeAcknowledger()
	c := newConsumer(proc)

	err := c.handleDelivery(context.Background(), delivery(ack, 1,
		`{"request_id":"r-1","message":{"to":"ExponentPushToken[a]","title":"hi"},"use_fcm_v1":true}`))
	require.NoError(t, err)

	assert.True(t, ack.record(1).acked)
	reqs := proc.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "r-1", reqs[0].RequestID)
	assert.True(t, reqs[0].UseFCMv1)
	assert.Equal(t, "hi", reqs[0].Message.Title)
	assert.Equal(t, 2024, reqs[0].CreatedAt.Year())
}

func TestHandleDelivery_FailureIsDeadLettered(t *testing.T) {
	proc := &fakeProcessor{err: errors.Join(models.ErrSend, errors.New("boom"))}
	ack := newFakeAcknowledger()
	c := newConsumer(proc)

	err := c.handleDelivery(context.Background(), delivery(ack, 7, `{"message":{"to":"ExponentPushToken[a]"}}`))
	require.ErrorIs(t, err, models.ErrSend)

	rec := ack.record(7)
	assert.True(t, rec.nacked)
	assert.False(t, rec.requeue)
	assert.False(t, rec.acked)
}

func TestHandleDelivery_MalformedBodyRejected(t *testing.T) {
	proc := &fakeProcessor{}
	ack := newFakeAcknowledger()
	c := newConsumer(proc)

	err := c.handleDelivery(context.Background(), delivery(ack, 3, `not json`))
	require.Error(t, err)
	assert.True(t, ack.record(3).rejected)
	assert.False(t, ack.record(3).requeue)
	assert.Empty(t, proc.requests())
}

func TestHandleDelivery_FillsRequestIDs(t *testing.T) {
	proc := &fakeProcessor{}
	ack := newFakeAcknowledger()
	c := newConsumer(proc)

	msg := delivery(ack, 1, `{"message":{"to":"ExponentPushToken[a]"}}`)
	msg.MessageId = "amqp-id"
	msg.CorrelationId = "corr"
	require.NoError(t, c.handleDelivery(context.Background(), msg))
	require.NoError(t, c.handleDelivery(context.Background(), delivery(ack, 2, `{"message":{"to":"ExponentPushToken[a]"}}`)))

	reqs := proc.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "amqp-id", reqs[0].RequestID)
	assert.Equal(t, "corr", reqs[0].CorrelationID)
	_, err := uuid.Parse(reqs[1].RequestID)
	assert.NoError(t, err)
}

func TestDispatch_DrainsUntilClosed(t *testing.T) {
	proc := &fakeProcessor{}
	ack := newFakeAcknowledger()
	c := newConsumer(proc)

	deliveries := make(chan amqp.Delivery, 3)
	for tag := uint64(1); tag <= 3; tag++ {
		deliveries <- delivery(ack, tag, `{"message":{"to":"ExponentPushToken[a]"}}`)
	}
	close(deliveries)

	c.base.dispatch(context.Background(), deliveries, c.handleDelivery)

	assert.Len(t, proc.requests(), 3)
	for tag := uint64(1); tag <= 3; tag++ {
		assert.True(t, ack.record(tag).acked)
	}
}

func TestNewBaseConsumerDefaults(t *testing.T) {
	c := NewBaseConsumer(nil, Options{Queue: "q"}, discardLogger())
	assert.Equal(t, 50, c.opts.Prefetch)
	assert.Equal(t, 5, c.opts.Workers)
	assert.Equal(t, DefaultExchange, c.opts.Exchange)
	assert.Equal(t, DefaultRoutingKey, c.opts.RoutingKey)
}
