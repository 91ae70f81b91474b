package relay

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/config"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(cfg config.RelayConfig, record *sentMail, failWith error) *Mailer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewMailer(cfg, logger, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if failWith != nil {
			return failWith
		}
		*record = sentMail{addr: addr, from: from, to: to, msg: string(msg)}
		return nil
	})
	m.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return m
}

func enabledConfig() config.RelayConfig {
	return config.RelayConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot@example.com",
		Password: "secret",
		To:       "owner@example.com",
	}
}

func TestSendComposesMessage(t *testing.T) {
	var record sentMail
	m := newTestMailer(enabledConfig(), &record, nil)

	err := m.Send(context.Background(), Contact{
		Name:    "  Ada  ",
		Email:   "ada@example.org",
		Message: "hello\nthere",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if record.addr != "smtp.example.com:587" {
		t.Fatalf("unexpected smtp addr %s", record.addr)
	}
	if record.from != "bot@example.com" {
		t.Fatalf("From 应回退到 Username，got %s", record.from)
	}
	if len(record.to) != 1 || record.to[0] != "owner@example.com" {
		t.Fatalf("unexpected recipients %v", record.to)
	}
	for _, want := range []string{
		"Reply-To: ada@example.org\r\n",
		"Subject: New contact form submission from Ada\r\n",
		"Message-ID: <",
		"hello\r\nthere",
	} {
		if !strings.Contains(record.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, record.msg)
		}
	}
}

func TestSendEncodesNonASCIISubject(t *testing.T) {
	var record sentMail
	m := newTestMailer(enabledConfig(), &record, nil)

	if err := m.Send(context.Background(), Contact{
		Name:    "林小明",
		Email:   "lin@example.org",
		Message: "你好",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var subject string
	for _, line := range strings.Split(record.msg, "\r\n") {
		if strings.HasPrefix(line, "Subject: ") {
			subject = line
			break
		}
	}
	if !strings.Contains(subject, "=?utf-8?q?") {
		t.Fatalf("non-ASCII name should be Q-encoded, got %q", subject)
	}
	if strings.Contains(subject, "林小明") {
		t.Fatalf("raw UTF-8 must not appear in the Subject header: %q", subject)
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(strings.TrimPrefix(subject, "Subject: "))
	if err != nil || decoded != "New contact form submission from 林小明" {
		t.Fatalf("subject should decode back to the name: %q %v", decoded, err)
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	var record sentMail
	cfg := enabledConfig()
	cfg.Password = ""
	m := newTestMailer(cfg, &record, nil)

	err := m.Send(context.Background(), Contact{Name: "Ada", Email: "ada@example.org", Message: "hi"})
	if !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
	if m.Enabled() {
		t.Fatalf("mailer without password should be disabled")
	}
}

func TestContactValidation(t *testing.T) {
	cases := []struct {
		name    string
		contact Contact
		field   string
	}{
		{name: "missing name", contact: Contact{Email: "a@b.co", Message: "x"}, field: "name"},
		{name: "header injection", contact: Contact{Name: "a\r\nBcc: x@y.z", Email: "a@b.co", Message: "x"}, field: "name"},
		{name: "display name email", contact: Contact{Name: "a", Email: "Ada <a@b.co>", Message: "x"}, field: "email"},
		{name: "bad email", contact: Contact{Name: "a", Email: "not-an-email", Message: "x"}, field: "email"},
		{name: "empty message", contact: Contact{Name: "a", Email: "a@b.co", Message: "   "}, field: "message"},
		{name: "long message", contact: Contact{Name: "a", Email: "a@b.co", Message: strings.Repeat("x", maxMessageLength+1)}, field: "message"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.contact.Validate()
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, vErr.Field)
			}
		})
	}
}

func TestSendWrapsTransportError(t *testing.T) {
	var record sentMail
	boom := errors.New("dial tcp: refused")
	m := newTestMailer(enabledConfig(), &record, boom)

	err := m.Send(context.Background(), Contact{Name: "Ada", Email: "ada@example.org", Message: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}
