package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBuffer = 256

	defaultSendTimeout      = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// Sink delivers one event to the external push system.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Dispatcher is a Publisher backed by a bounded buffer and a single worker.
// A full buffer drops the event; sink failures are logged and counted, never
// returned to the publisher.
type Dispatcher struct {
	sink        Sink
	inbox       chan Event
	logger      *slog.Logger
	metrics     *Metrics
	breaker     *CircuitBreaker
	sendTimeout time.Duration

	// mu orders Publish against stop: once stop holds it, no enqueue is in
	// flight and the drain sees every accepted event.
	mu      sync.RWMutex
	stopped bool
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBuffer sets the buffer capacity. Non-positive values keep the default.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inbox = make(chan Event, n)
		}
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithCircuitBreaker replaces the default breaker guarding the sink.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(d *Dispatcher) {
		if cb != nil {
			d.breaker = cb
		}
	}
}

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:        sink,
		inbox:       make(chan Event, DefaultBuffer),
		logger:      slog.Default(),
		breaker:     NewCircuitBreaker(defaultBreakerThreshold, defaultBreakerCooldown),
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ Publisher = (*Dispatcher)(nil)

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.drop(ctx, event, "dispatcher stopped")
		return
	}
	select {
	case d.inbox <- event:
		if d.metrics != nil {
			d.metrics.Queued.Set(float64(len(d.inbox)))
		}
	default:
		d.drop(ctx, event, "buffer full")
	}
}

// Run delivers buffered events until ctx is done, then drains what is left
// with a fresh deadline per event.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			d.stop()
			d.drain()
			return nil
		case event := <-d.inbox:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.inbox:
			d.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	if d.metrics != nil {
		d.metrics.Queued.Set(float64(len(d.inbox)))
	}
	if !d.breaker.Allow() {
		if d.metrics != nil {
			d.metrics.IncDropped("circuit_open")
		}
		d.logger.WarnContext(ctx, "notification dropped",
			"reason", "circuit open",
			"event_type", string(event.Type),
			"event_id", event.ID.String(),
		)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	if err := d.sink.Send(sendCtx, event); err != nil {
		d.breaker.RecordFailure()
		if d.metrics != nil {
			d.metrics.IncFailed()
			d.metrics.SetCircuitBreakerState(d.breaker.IsOpen())
		}
		d.logger.WarnContext(ctx, "notification delivery failed",
			"error", err,
			"event_type", string(event.Type),
			"event_id", event.ID.String(),
			"case_id", event.CaseID.String(),
		)
		return
	}
	d.breaker.RecordSuccess()
	if d.metrics != nil {
		d.metrics.IncDelivered(event.Type)
		d.metrics.SetCircuitBreakerState(false)
	}
}

func (d *Dispatcher) drop(ctx context.Context, event Event, reason string) {
	if d.metrics != nil {
		d.metrics.IncDropped(reason)
	}
	d.logger.WarnContext(ctx, "notification dropped",
		"reason", reason,
		"event_type", string(event.Type),
		"event_id", event.ID.String(),
	)
}
