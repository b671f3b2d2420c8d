package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// DiscardHandler is invoked when a message has exhausted its retries. The
// message is acked afterwards regardless; the handler's job is to record the
// permanent failure somewhere a caller can see it.
type DiscardHandler func(ctx context.Context, data json.RawMessage, err error)

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	onDiscard  DiscardHandler
	conn       *amqp091.Connection
	logger     *zap.Logger

	retries    *RetryCounter
	maxRetries int64
	backoff    time.Duration

	// MessageID extracts a stable id from the message body for retry
	// accounting. Defaults to the delivery's MessageId property.
	MessageID func(data json.RawMessage) string
}

// NewConsumer creates a consumer for a specific routing key on a durable,
// priority-enabled queue.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := DeclareJobQueue(ch, queueName, routingKey)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) SetDiscardHandler(h DiscardHandler) {
	c.onDiscard = h
}

// SetRetryPolicy enables bounded retries with linear backoff. Without a
// policy, failed messages are nacked and requeued indefinitely.
func (c *Consumer) SetRetryPolicy(retries *RetryCounter, maxRetries int64, backoff time.Duration) {
	c.retries = retries
	c.maxRetries = maxRetries
	c.backoff = backoff
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"worker",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.consumeOne(msg)
	}

	return nil
}

// consumeOne guarantees every delivery ends in exactly one ack or nack, even
// when the handler panics.
func (c *Consumer) consumeOne(msg amqp091.Delivery) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handler(ctx, msg.Body)
	if err == nil {
		if c.retries != nil {
			_ = c.retries.Reset(ctx, c.retryKey(msg))
		}
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message",
				zap.String("routing_key", c.routingKey),
				zap.Error(ackErr),
			)
		}
		return
	}

	c.logger.Error("Handler error",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.Error(err),
	)

	if c.retries == nil {
		_ = msg.Nack(false, true)
		return
	}

	count, cntErr := c.retries.IncrementAndGet(ctx, c.retryKey(msg))
	if cntErr != nil {
		// Redis down: keep the message alive rather than discarding it.
		c.logger.Warn("Retry counter unavailable, requeueing", zap.Error(cntErr))
		_ = msg.Nack(false, true)
		return
	}

	if count >= c.maxRetries {
		c.logger.Error("Max retries exceeded, discarding message",
			zap.String("routing_key", c.routingKey),
			zap.Int64("attempts", count),
		)
		if c.onDiscard != nil {
			c.onDiscard(ctx, msg.Body, err)
		}
		_ = msg.Ack(false)
		return
	}

	// Linear backoff before requeue so a broken downstream gets breathing room.
	time.Sleep(c.backoff * time.Duration(count))
	_ = msg.Nack(false, true)
}

func (c *Consumer) retryKey(msg amqp091.Delivery) string {
	id := msg.MessageId
	if c.MessageID != nil {
		if v := c.MessageID(msg.Body); v != "" {
			id = v
		}
	}
	return FormatRetryKey(c.queue.Name, id)
}
