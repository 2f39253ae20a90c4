package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/metrics"
)

// Dispatcher defaults.
const (
	DefaultQueueSize       = 256
	DefaultDeliveryTimeout = 10 * time.Second
)

type DispatcherConfig struct {
	QueueSize int
	Timeout   time.Duration // per delivery, per sink
	Logger    *zerolog.Logger
}

// Dispatcher is an asynchronous Publisher: a bounded queue drained by one
// worker goroutine. When the queue is full new envelopes are dropped and
// counted; the notification rows are already committed either way.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger
	queue   chan core.Envelope

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDeliveryTimeout
	}
	logger := logging.WithComponent("notify")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	d := &Dispatcher{
		sinks:   sinks,
		timeout: cfg.Timeout,
		logger:  logger,
		queue:   make(chan core.Envelope, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go d.work()
	return d
}

// Publish enqueues without blocking.
func (d *Dispatcher) Publish(_ context.Context, envs []core.Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, env := range envs {
		if d.closed {
			d.drop(env, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- env:
			metrics.NotificationQueueDepth.Inc()
		default:
			d.drop(env, "queue full")
		}
	}
}

func (d *Dispatcher) drop(env core.Envelope, reason string) {
	metrics.Notifications.WithLabelValues("dispatcher", metrics.OutcomeDropped).Inc()
	d.logger.Warn().
		Str(logging.FieldNotification, string(env.Notification.ID)).
		Str(logging.FieldEvent, string(env.Notification.Type)).
		Str("reason", reason).
		Msg("notification dropped")
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for env := range d.queue {
		metrics.NotificationQueueDepth.Dec()
		deliverAll(context.Background(), d.sinks, env, d.timeout, d.logger)
	}
}

// Close stops accepting envelopes and waits for the queue to drain or ctx
// to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
