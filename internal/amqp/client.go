package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"gastos/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var errChannelClosed = errors.New("message channel closed")

// Handler processes one change event.
type Handler func(ctx context.Context, e *ChangeEvent) error

// Client publishes change events to a fanout exchange and consumes them.
// Publishing is guarded by a circuit breaker; consumers reconnect with
// exponential backoff.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	origin       string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient connects and declares the exchange. queueName is the durable
// queue used by ConsumeDurable.
func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		origin:       uuid.NewString(),
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Origin identifies this process in published events.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) log() *log.Logger {
	if c.logger == nil {
		return log.Discard()
	}
	return c.logger
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp091.Dial(c.url)
		if err != nil {
			return fmt.Errorf("dial AMQP: %w", err)
		}
		c.conn = conn
	}
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	c.channel = channel
	return nil
}

// openChannel returns a dedicated channel for a consumer.
func (c *Client) openChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.conn.Channel()
}

// exponentialBackoff returns 1s, 2s, 4s ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, errChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection", "connection reset", "not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// Publish sends e to every bound queue. Events without an origin are
// stamped with this client's.
func (c *Client) Publish(ctx context.Context, e *ChangeEvent) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: circuit breaker is open", e.Collection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Origin == "" {
		e.Origin = c.origin
	}
	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	if err := c.connectLocked(); err != nil {
		c.mu.Unlock()
		c.recordFailure()
		return err
	}
	channel := c.channel
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.log().DebugContext(ctx, "Published change event",
		log.FieldEventID, e.ID,
		log.FieldCollection, e.Collection,
		log.FieldOperation, e.Op)
	return nil
}

// ConsumeBroadcast binds an exclusive, auto-deleted queue and delivers
// events published by other processes. It returns when ctx is done.
func (c *Client) ConsumeBroadcast(ctx context.Context, handler Handler) error {
	return c.consume(ctx, true, func(ctx context.Context, e *ChangeEvent) error {
		if e.Origin == c.origin {
			return nil
		}
		return handler(ctx, e)
	})
}

// ConsumeDurable delivers events from the shared durable queue. Failed
// events are requeued once.
func (c *Client) ConsumeDurable(ctx context.Context, handler Handler) error {
	return c.consume(ctx, false, handler)
}

func (c *Client) consume(ctx context.Context, exclusive bool, handler Handler) error {
	attempt := 0
	for {
		connected, err := c.consumeOnce(ctx, exclusive, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		if connected {
			attempt = 0
		}
		delay := exponentialBackoff(attempt)
		attempt++
		c.log().WarnContext(ctx, "AMQP consumer disconnected, reconnecting",
			log.FieldError, err,
			log.FieldAttempt, attempt,
			log.FieldDelay, delay.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consumeOnce runs until the channel closes. connected reports whether
// the consumer got as far as receiving deliveries.
func (c *Client) consumeOnce(ctx context.Context, exclusive bool, handler Handler) (connected bool, err error) {
	channel, err := c.openChannel()
	if err != nil {
		return false, err
	}
	defer channel.Close()

	name, durable, autoDelete := c.queueName, true, false
	if exclusive {
		name, durable, autoDelete = "", false, true
	}
	q, err := channel.QueueDeclare(
		name,       // name
		durable,    // durable
		autoDelete, // delete when unused
		exclusive,  // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return false, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(q.Name, "", c.exchangeName, false, nil); err != nil {
		return false, fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := channel.Consume(
		q.Name,    // queue
		"",        // consumer
		false,     // auto-ack
		exclusive, // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return false, fmt.Errorf("start consuming: %w", err)
	}

	c.log().InfoContext(ctx, "Started consuming change events", "queue", q.Name, "exclusive", exclusive)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return true, errChannelClosed
			}
			c.handle(ctx, delivery, handler)
		}
	}
}

func (c *Client) handle(ctx context.Context, delivery amqp091.Delivery, handler Handler) {
	msg, err := ChangeEventFromJSON(delivery.Body)
	if err != nil {
		c.log().ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
		delivery.Nack(false, false)
		return
	}
	if err := handler(ctx, msg); err != nil {
		requeue := !delivery.Redelivered
		c.log().ErrorContext(ctx, "Failed to handle change event",
			log.FieldError, err,
			log.FieldEventID, msg.ID,
			log.FieldCollection, msg.Collection,
			"requeue", requeue)
		delivery.Nack(false, requeue)
		return
	}
	delivery.Ack(false)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
