package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/warp/roombook/core"
)

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// mailSender is the part of *mail.Client the sink needs.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// MailSink sends one HTML email per event to the reservation owner.
// Envelopes without an email address are skipped.
type MailSink struct {
	client mailSender
	from   string
	name   string
	loc    *time.Location
}

func NewMailSink(cfg MailConfig, loc *time.Location) (*MailSink, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: init client: %w", err)
	}
	return newMailSink(c, cfg, loc), nil
}

func newMailSink(c mailSender, cfg MailConfig, loc *time.Location) *MailSink {
	if loc == nil {
		loc = time.Local
	}
	name := cfg.FromName
	if name == "" {
		name = "Meeting Room"
	}
	return &MailSink{client: c, from: cfg.From, name: name, loc: loc}
}

func (s *MailSink) Name() string { return "mail" }

func (s *MailSink) Deliver(ctx context.Context, env core.Envelope) error {
	if env.Recipient.Email == "" {
		return nil
	}
	msg, err := s.message(env)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send %s: %w", env.Notification.ID, err)
	}
	return nil
}

func (s *MailSink) message(env core.Envelope) (*mail.Msg, error) {
	body, err := renderBody(env.Notification, s.loc)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.name, s.from); err != nil {
		return nil, fmt.Errorf("mail: from address: %w", err)
	}
	if err := msg.To(env.Recipient.Email); err != nil {
		return nil, fmt.Errorf("mail: to address: %w", err)
	}
	msg.Subject(subject(env.Notification.Type))
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

// =============================================================================
// CONTENT
// =============================================================================

var actions = map[core.EventType]string{
	core.EventCreated:         "created",
	core.EventUpdated:         "updated",
	core.EventCanceled:        "canceled",
	core.EventApproved:        "approved",
	core.EventRejected:        "rejected",
	core.EventChangeRequested: "change requested",
}

func action(t core.EventType) string {
	if a, ok := actions[t]; ok {
		return a
	}
	return string(t)
}

func subject(t core.EventType) string {
	return "Meeting room booking " + action(t)
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`<p><strong>{{.Company}}</strong> booking was {{.Action}}.</p>` +
		`<p>Time: {{.Start}} - {{.End}} ({{.Minutes}} minutes)</p>` +
		`{{if .Reason}}<p>Rejection reason: {{.Reason}}</p>{{end}}`,
))

type bodyData struct {
	Company string
	Action  string
	Start   string
	End     string
	Minutes int
	Reason  string
}

func renderBody(n core.Notification, loc *time.Location) (string, error) {
	w := core.TimeRange{Start: n.Payload.StartAt, End: n.Payload.EndAt}.In(loc)
	data := bodyData{
		Company: n.Payload.CompanyName,
		Action:  action(n.Type),
		Start:   w.Start.Format("2006-01-02 15:04"),
		End:     w.End.Format("15:04"),
		Minutes: w.Minutes(),
		Reason:  n.Payload.Reason,
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("mail: render body: %w", err)
	}
	return buf.String(), nil
}
