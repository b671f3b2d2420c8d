package event

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schednotify/pkg/metrics"
)

// HandlerFunc processes one delivered payload. Return values are not
// consumed; a handler reports problems by logging them.
type HandlerFunc func(ctx context.Context, p Payload)

// Binding pairs a handler with a stable name so it can be unsubscribed later.
// Registration uses explicit bindings rather than bare closures: handlers are
// frequently registered for many types in a loop, and named bindings keep
// that safe and diagnosable.
type Binding struct {
	Name string
	Fn   HandlerFunc
}

// Bus routes domain events between producers and locally registered handlers
// over Redis pub/sub. Publishing is best-effort fire-and-forget: when the
// transport is down, Publish reports false and the caller moves on. Events
// are a latency optimization on top of the pending-notification poll path,
// never the sole delivery channel.
//
// Construct one Bus at startup and inject it; there is no package-level
// instance.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[Type][]Binding

	listenMu sync.Mutex
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewBus(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{
		rdb:      rdb,
		logger:   logger,
		handlers: make(map[Type][]Binding),
	}
}

// Publish broadcasts an event to the global channel for its type and to the
// publisher user's channel. Returns false (never an error) when the transport
// rejects the write; publish failure must not fail the surrounding request.
func (b *Bus) Publish(ctx context.Context, t Type, userID string, data map[string]any) bool {
	p := NewPayload(t, userID, data)
	body, err := p.Marshal()
	if err != nil {
		b.logger.Error("Failed to marshal event payload",
			zap.String("type", string(t)),
			zap.Error(err),
		)
		return false
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, GlobalChannel(t), body)
	if userID != "" {
		pipe.Publish(ctx, UserChannel(userID), body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("Event publish failed, transport unavailable",
			zap.String("type", string(t)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
	return true
}

// Subscribe registers a named handler for an event type. Multiple bindings
// per type are allowed and all run on delivery. Re-registering an existing
// name for the same type replaces the previous handler.
func (b *Bus) Subscribe(t Type, name string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, bd := range b.handlers[t] {
		if bd.Name == name {
			b.handlers[t][i].Fn = fn
			return
		}
	}
	b.handlers[t] = append(b.handlers[t], Binding{Name: name, Fn: fn})
}

// Unsubscribe removes the named binding for an event type. Removing a binding
// that does not exist is a no-op.
func (b *Bus) Unsubscribe(t Type, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bindings := b.handlers[t]
	for i, bd := range bindings {
		if bd.Name == name {
			b.handlers[t] = append(bindings[:i], bindings[i+1:]...)
			return
		}
	}
}

// StartListening launches the single background listener subscribed to the
// global channel of every known event type. Calling it while the listener is
// already running is a no-op; the listener can be restarted after
// StopListening.
func (b *Bus) StartListening() {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()

	if b.pubsub != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	channels := make([]string, 0, len(allTypes))
	for _, t := range allTypes {
		channels = append(channels, GlobalChannel(t))
	}

	b.pubsub = b.rdb.Subscribe(ctx, channels...)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.listen(ctx, b.pubsub, b.done)

	b.logger.Info("Event bus listener started", zap.Int("channels", len(channels)))
}

// StopListening shuts the listener down and waits for it to exit.
func (b *Bus) StopListening() {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()

	if b.pubsub == nil {
		return
	}

	b.cancel()
	_ = b.pubsub.Close()
	<-b.done

	b.pubsub = nil
	b.cancel = nil
	b.done = nil

	b.logger.Info("Event bus listener stopped")
}

// Listening reports whether the background listener is running.
func (b *Bus) Listening() bool {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	return b.pubsub != nil
}

// IsAvailable reports whether the transport answers a cheap ping.
func (b *Bus) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return b.rdb.Ping(ctx).Err() == nil
}

// HandlerCounts returns the number of registered bindings per event type,
// for the diagnostics endpoint.
func (b *Bus) HandlerCounts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.handlers))
	for t, bindings := range b.handlers {
		if len(bindings) > 0 {
			counts[string(t)] = len(bindings)
		}
	}
	return counts
}

// listen drains the transport subscription until the pubsub is closed or the
// context is cancelled. Dispatch runs inline on this goroutine: Redis delivers
// one channel's messages in publish order, so inline dispatch is what
// preserves per-user ordering end to end.
func (b *Bus) listen(ctx context.Context, pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Dispatch(ctx, []byte(msg.Payload))
		}
	}
}

// Dispatch decodes a raw transport message and invokes every binding
// registered for its type. Malformed payloads are logged and dropped; a
// failing handler never prevents the remaining ones from running.
func (b *Bus) Dispatch(ctx context.Context, raw []byte) {
	p, err := UnmarshalPayload(raw)
	if err != nil {
		b.logger.Warn("Dropping malformed event payload", zap.Error(err))
		return
	}

	b.mu.RLock()
	bindings := make([]Binding, len(b.handlers[p.Type]))
	copy(bindings, b.handlers[p.Type])
	b.mu.RUnlock()

	metrics.EventsDispatched.WithLabelValues(string(p.Type)).Inc()

	for _, bd := range bindings {
		b.invoke(ctx, bd, p)
	}
}

func (b *Bus) invoke(ctx context.Context, bd Binding, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerErrors.WithLabelValues(string(p.Type)).Inc()
			b.logger.Error("Event handler panic recovered",
				zap.String("type", string(p.Type)),
				zap.String("binding", bd.Name),
				zap.Any("panic", r),
			)
		}
	}()

	bd.Fn(ctx, p)
}
