package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/secrets"
)

// Transport transmits a rendered email.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// NewTransport picks the configured transport: SMTP, then SendGrid, then SES.
// ses may be nil when SMTP or SendGrid is configured.
func NewTransport(cfg *config.Config, creds *secrets.Cache, sesClient SESAPI) (Transport, error) {
	switch cfg.EmailTransport() {
	case "smtp":
		return &SMTPTransport{
			Host:     cfg.SMTPServer,
			Port:     cfg.SMTPPort,
			StartTLS: cfg.SMTPSSL,
			Username: cfg.SMTPUsername,
			creds:    creds,
		}, nil
	case "sendgrid":
		return &SendGridTransport{creds: creds}, nil
	default:
		if sesClient == nil {
			return nil, fmt.Errorf("ses transport selected but no SES client configured")
		}
		return &SESTransport{client: sesClient}, nil
	}
}

// defaultSMTPTimeout bounds one whole SMTP conversation.
const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport sends through an SMTP relay.
type SMTPTransport struct {
	Host     string
	Port     int
	StartTLS bool
	Username string
	// Timeout bounds the dial and the conversation; zero means 30s.
	Timeout time.Duration
	creds   *secrets.Cache
}

// Name implements Transport.
func (s *SMTPTransport) Name() string { return "smtp" }

// Send implements Transport.
func (s *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	d := net.Dialer{Deadline: deadline}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}
	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" {
		password, err := s.creds.Get(ctx, "smtp_password")
		if err != nil {
			return fmt.Errorf("smtp password: %w", err)
		}
		if err := c.Auth(smtp.PlainAuth("", s.Username, password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return c.Quit()
}

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendRawEmail(ctx context.Context, in *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESTransport sends raw MIME through Amazon SES.
type SESTransport struct {
	client SESAPI
}

// Name implements Transport.
func (s *SESTransport) Name() string { return "ses" }

// Send implements Transport.
func (s *SESTransport) Send(ctx context.Context, msg *Message) error {
	_, err := s.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(msg.From),
		Destinations: msg.To,
		RawMessage:   &sestypes.RawMessage{Data: msg.Bytes()},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// SendGridTransport sends through the SendGrid v3 API.
type SendGridTransport struct {
	creds *secrets.Cache
	// host overrides the API host (tests).
	host string
}

// Name implements Transport.
func (s *SendGridTransport) Name() string { return "sendgrid" }

// Send implements Transport.
func (s *SendGridTransport) Send(ctx context.Context, msg *Message) error {
	key, err := s.creds.Get(ctx, "sendgrid_api_key")
	if err != nil {
		return fmt.Errorf("sendgrid api key: %w", err)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", msg.From))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	m.AddContent(mail.NewContent(contentType, msg.Body))
	if msg.Priority != "" {
		m.SetHeader("X-Priority", msg.Priority)
	}

	req := sendgrid.GetRequest(key, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned HTTP %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
