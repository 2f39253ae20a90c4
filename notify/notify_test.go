package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/goleak"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/logging"
)

func envelope(id string, typ core.EventType, reason string) core.Envelope {
	return core.Envelope{
		Notification: core.Notification{
			ID:            core.NotificationID(id),
			ReservationID: "res-1",
			Type:          typ,
			Payload: core.NotificationPayload{
				CompanyName: "Acme",
				StartAt:     time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
				EndAt:       time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC),
				Reason:      reason,
			},
			CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Recipient: core.Recipient{UserID: "alice", Email: "alice@acme.test", Company: "Acme"},
	}
}

// recordingSink remembers what it was given and can be told to fail or block.
type recordingSink struct {
	mu    sync.Mutex
	got   []core.Envelope
	err   error
	block chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, env core.Envelope) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return s.err
}

func (s *recordingSink) ids() []core.NotificationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.NotificationID, 0, len(s.got))
	for _, e := range s.got {
		out = append(out, e.Notification.ID)
	}
	return out
}

// =============================================================================
// DISPATCHER
// =============================================================================

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &recordingSink{}
	logger := logging.Nop()
	d := NewDispatcher(DispatcherConfig{QueueSize: 8, Logger: &logger}, sink)

	d.Publish(context.Background(), []core.Envelope{
		envelope("n1", core.EventCreated, ""),
		envelope("n2", core.EventApproved, ""),
	})
	d.Publish(context.Background(), []core.Envelope{envelope("n3", core.EventCanceled, "")})

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []core.NotificationID{"n1", "n2", "n3"}, sink.ids())
}

func TestDispatcher_SinkFailureDoesNotStopOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	failing := &recordingSink{err: errors.New("smtp down")}
	ok := &recordingSink{}
	logger := logging.Nop()
	d := NewDispatcher(DispatcherConfig{Logger: &logger}, failing, ok)

	d.Publish(context.Background(), []core.Envelope{envelope("n1", core.EventCreated, "")})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []core.NotificationID{"n1"}, failing.ids())
	assert.Equal(t, []core.NotificationID{"n1"}, ok.ids())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// GIVEN a sink that blocks and a queue of one
	sink := &recordingSink{block: make(chan struct{})}
	logger := logging.Nop()
	d := NewDispatcher(DispatcherConfig{QueueSize: 1, Logger: &logger}, sink)

	// WHEN the worker is stuck on n1, n2 fills the queue and n3 overflows
	d.Publish(context.Background(), []core.Envelope{envelope("n1", core.EventCreated, "")})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Publish(context.Background(), []core.Envelope{
		envelope("n2", core.EventCreated, ""),
		envelope("n3", core.EventCreated, ""),
	})
	close(sink.block)

	// THEN only n3 is lost
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []core.NotificationID{"n1", "n2"}, sink.ids())
}

func TestDispatcher_PublishAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	logger := logging.Nop()
	d := NewDispatcher(DispatcherConfig{Logger: &logger}, sink)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), []core.Envelope{envelope("late", core.EventCreated, "")})
	})
	assert.Empty(t, sink.ids())
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	logger := logging.Nop()
	d := NewDispatcher(DispatcherConfig{Logger: &logger}, sink)
	d.Publish(context.Background(), []core.Envelope{envelope("n1", core.EventCreated, "")})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestInline_DeliversSynchronously(t *testing.T) {
	sink := &recordingSink{}
	p := NewInline(time.Second, sink)

	p.Publish(context.Background(), []core.Envelope{envelope("n1", core.EventRejected, "full")})
	assert.Equal(t, []core.NotificationID{"n1"}, sink.ids())
}

// =============================================================================
// MAIL
// =============================================================================

type fakeSender struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestRenderBody(t *testing.T) {
	body, err := renderBody(envelope("n1", core.EventApproved, "").Notification, time.UTC)
	require.NoError(t, err)
	assert.Equal(t,
		"<p><strong>Acme</strong> booking was approved.</p><p>Time: 2025-03-10 10:00 - 11:30 (90 minutes)</p>",
		body)

	body, err = renderBody(envelope("n2", core.EventRejected, "Room under maintenance").Notification, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, body, "booking was rejected.")
	assert.Contains(t, body, "<p>Rejection reason: Room under maintenance</p>")
}

func TestRenderBody_LocalTimeAndEscaping(t *testing.T) {
	env := envelope("n1", core.EventChangeRequested, "")
	env.Notification.Payload.CompanyName = "<b>Evil</b>"

	body, err := renderBody(env.Notification, time.FixedZone("KST", 9*60*60))
	require.NoError(t, err)
	assert.Contains(t, body, "booking was change requested.")
	assert.Contains(t, body, "Time: 2025-03-10 19:00 - 20:30")
	assert.Contains(t, body, "&lt;b&gt;Evil&lt;/b&gt;")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Meeting room booking created", subject(core.EventCreated))
	assert.Equal(t, "Meeting room booking change requested", subject(core.EventChangeRequested))
}

func TestMailSink_Deliver(t *testing.T) {
	sender := &fakeSender{}
	s := newMailSink(sender, MailConfig{From: "rooms@warp.test"}, time.UTC)

	require.NoError(t, s.Deliver(context.Background(), envelope("n1", core.EventCanceled, "")))
	require.Len(t, sender.msgs, 1)

	msg := sender.msgs[0]
	assert.Equal(t, []string{"Meeting room booking canceled"}, msg.GetGenHeader(mail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@acme.test"}, rcpts)
}

func TestMailSink_SkipsMissingAddress(t *testing.T) {
	sender := &fakeSender{}
	s := newMailSink(sender, MailConfig{From: "rooms@warp.test"}, time.UTC)

	env := envelope("n1", core.EventCreated, "")
	env.Recipient.Email = ""
	require.NoError(t, s.Deliver(context.Background(), env))
	assert.Empty(t, sender.msgs)
}

func TestMailSink_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	s := newMailSink(sender, MailConfig{From: "rooms@warp.test"}, time.UTC)

	err := s.Deliver(context.Background(), envelope("n1", core.EventCreated, ""))
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewMailSink_RequiresHost(t *testing.T) {
	_, err := NewMailSink(MailConfig{}, time.UTC)
	assert.Error(t, err)
}

// =============================================================================
// AMQP
// =============================================================================

type fakeChannel struct {
	exchange, key string
	msgs          []amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestAMQPSink_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPSink(ch, DefaultQueue)

	require.NoError(t, s.Deliver(context.Background(), envelope("n1", core.EventRejected, "double booked")))
	require.Len(t, ch.msgs, 1)

	pub := ch.msgs[0]
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, DefaultQueue, ch.key)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, "n1", pub.MessageId)
	assert.Equal(t, "rejected", pub.Type)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.Body, &ev))
	assert.Equal(t, core.ReservationID("res-1"), ev.ReservationID)
	assert.Equal(t, "double booked", ev.Payload.Reason)
	assert.Equal(t, "Acme", ev.Payload.CompanyName)
	assert.Equal(t, core.UserID("alice"), ev.Recipient.UserID)

	require.NoError(t, s.Close())
}

func TestDialAMQP_RequiresURL(t *testing.T) {
	_, err := DialAMQP(AMQPConfig{})
	assert.Error(t, err)
}
