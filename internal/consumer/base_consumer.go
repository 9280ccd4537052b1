package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

const (
	DefaultExchange   = "push.direct"
	DefaultRoutingKey = "push.send"
)

// Options configures queue topology and worker fan-out.
type Options struct {
	Queue      string
	DLQ        string
	Exchange   string
	RoutingKey string
	Prefetch   int
	Workers    int
}

// HandlerFunc processes one delivery and is responsible for acking it.
type HandlerFunc func(context.Context, amqp.Delivery) error

// BaseConsumer declares the send queue and its dead-letter queue, then fans
// deliveries out to a fixed pool of workers.
type BaseConsumer struct {
	conn   *amqp.Connection
	opts   Options
	logger *slog.Logger
}

func NewBaseConsumer(conn *amqp.Connection, opts Options, logger *slog.Logger) *BaseConsumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}
	if opts.RoutingKey == "" {
		opts.RoutingKey = DefaultRoutingKey
	}
	return &BaseConsumer{conn: conn, opts: opts, logger: logger}
}

// Start blocks until ctx is cancelled or the delivery channel closes.
func (c *BaseConsumer) Start(ctx context.Context, handler HandlerFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.opts.Queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.logger.Info("consuming send requests",
		slog.String("queue", c.opts.Queue),
		slog.Int("workers", c.opts.Workers),
	)
	c.dispatch(ctx, deliveries, handler)
	return nil
}

func (c *BaseConsumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, handler HandlerFunc) {
	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					if err := handler(ctx, msg); err != nil {
						c.logger.Error("handler returned error", slog.Int("worker", id), slog.Any("error", err))
					}
				}
			}
		}(i)
	}
	wg.Wait()
}

func (c *BaseConsumer) setupQueue(ch *amqp.Channel) error {
	args := amqp.Table{}
	if c.opts.DLQ != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = c.opts.DLQ
	}

	if err := ch.ExchangeDeclare(c.opts.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, args); err != nil {
		return err
	}
	if err := ch.QueueBind(c.opts.Queue, c.opts.RoutingKey, c.opts.Exchange, false, nil); err != nil {
		return err
	}
	if c.opts.DLQ != "" {
		if _, err := ch.QueueDeclare(c.opts.DLQ, true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}
