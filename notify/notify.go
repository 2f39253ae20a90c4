/*
Package notify delivers committed reservation events to the outside world.

PURPOSE:
  The booking coordinator writes notification rows inside its transaction
  and hands the envelopes to a Publisher after commit. This package holds
  the Publishers (async Dispatcher, synchronous Inline) and the Sinks they
  deliver to (log, SMTP mail, AMQP broker). A failed delivery is logged and
  counted; it never reaches the operation that produced the event.

SEE ALSO:
  - booking/coordinator.go: Publisher contract
  - dispatcher.go:          Bounded queue + worker
*/
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/metrics"
)

// Sink delivers one envelope.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, env core.Envelope) error
}

// Event is the wire form of a notification, shared by sinks that serialize.
type Event struct {
	ID            core.NotificationID      `json:"id"`
	ReservationID core.ReservationID       `json:"reservation_id"`
	Type          core.EventType           `json:"type"`
	Payload       core.NotificationPayload `json:"payload"`
	CreatedAt     time.Time                `json:"created_at"`
	Recipient     EventRecipient           `json:"recipient"`
}

type EventRecipient struct {
	UserID  core.UserID `json:"user_id"`
	Email   string      `json:"email,omitempty"`
	Company string      `json:"company_name,omitempty"`
}

func NewEvent(env core.Envelope) Event {
	n := env.Notification
	return Event{
		ID:            n.ID,
		ReservationID: n.ReservationID,
		Type:          n.Type,
		Payload:       n.Payload,
		CreatedAt:     n.CreatedAt,
		Recipient: EventRecipient{
			UserID:  env.Recipient.UserID,
			Email:   env.Recipient.Email,
			Company: env.Recipient.Company,
		},
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, env core.Envelope) error {
	n := env.Notification
	s.logger.Info().
		Str(logging.FieldNotification, string(n.ID)).
		Str(logging.FieldReservation, string(n.ReservationID)).
		Str(logging.FieldEvent, string(n.Type)).
		Str("recipient", string(env.Recipient.UserID)).
		Time("start_at", n.Payload.StartAt).
		Time("end_at", n.Payload.EndAt).
		Msg("reservation notification")
	return nil
}

// =============================================================================
// INLINE PUBLISHER
// =============================================================================

// Inline delivers synchronously on the caller's goroutine. Used by tools
// and tests; servers use Dispatcher.
type Inline struct {
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger
}

func NewInline(timeout time.Duration, sinks ...Sink) *Inline {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Inline{sinks: sinks, timeout: timeout, logger: logging.WithComponent("notify")}
}

func (p *Inline) Publish(ctx context.Context, envs []core.Envelope) {
	for _, env := range envs {
		deliverAll(ctx, p.sinks, env, p.timeout, p.logger)
	}
}

// deliverAll fans env out to every sink. Errors are logged and counted.
func deliverAll(ctx context.Context, sinks []Sink, env core.Envelope, timeout time.Duration, logger zerolog.Logger) {
	for _, sink := range sinks {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Deliver(dctx, env)
		cancel()

		if err != nil {
			metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeError).Inc()
			logger.Warn().Err(err).
				Str(logging.FieldSink, sink.Name()).
				Str(logging.FieldNotification, string(env.Notification.ID)).
				Str(logging.FieldEvent, string(env.Notification.Type)).
				Msg("notification delivery failed")
			continue
		}
		metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeOK).Inc()
	}
}
