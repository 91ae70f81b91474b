// Package relay 实现联系表单的单一出站邮件中继（SMTP PLAIN 认证）。
package relay

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/config"
)

const (
	maxNameLength    = 200
	maxMessageLength = 5000
)

// ErrUnconfigured 表示 SMTP 主机、收件人或凭证缺失，邮件中继不可用。
var ErrUnconfigured = errors.New("relay_unconfigured")

// SendFunc 与 smtp.SendMail 签名一致，测试中可替换。
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Contact 是访客提交的联系表单。
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ValidationError 描述表单中不合法的字段。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Mailer 负责校验表单并投递到配置的收件人。
type Mailer struct {
	cfg    config.RelayConfig
	logger *logrus.Logger
	send   SendFunc
	now    func() time.Time
}

// NewMailer 使用 smtp.SendMail 构造 Mailer；send 为 nil 时使用默认实现。
func NewMailer(cfg config.RelayConfig, logger *logrus.Logger, send SendFunc) *Mailer {
	if send == nil {
		send = smtp.SendMail
	}
	return &Mailer{
		cfg:    cfg,
		logger: logger,
		send:   send,
		now:    time.Now,
	}
}

// Enabled 报告中继是否已配置完整。
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled()
}

// Validate 规范化并校验表单字段。
func (c Contact) Validate() (Contact, error) {
	out := Contact{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Message: strings.TrimSpace(c.Message),
	}
	switch {
	case out.Name == "":
		return out, &ValidationError{Field: "name", Reason: "required"}
	case utf8.RuneCountInString(out.Name) > maxNameLength:
		return out, &ValidationError{Field: "name", Reason: "too long"}
	case strings.ContainsAny(out.Name, "\r\n"):
		return out, &ValidationError{Field: "name", Reason: "must be a single line"}
	}

	addr, err := mail.ParseAddress(out.Email)
	if err != nil || addr.Address != out.Email {
		return out, &ValidationError{Field: "email", Reason: "invalid address"}
	}

	switch {
	case out.Message == "":
		return out, &ValidationError{Field: "message", Reason: "required"}
	case utf8.RuneCountInString(out.Message) > maxMessageLength:
		return out, &ValidationError{Field: "message", Reason: "too long"}
	}
	return out, nil
}

// Send 校验表单后通过 SMTP 投递；Reply-To 指向访客邮箱。
func (m *Mailer) Send(ctx context.Context, contact Contact) error {
	if !m.cfg.Enabled() {
		return ErrUnconfigured
	}
	normalized, err := contact.Validate()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	msg := m.compose(from, normalized)

	fields := logrus.Fields{
		"action": "relay",
		"host":   m.cfg.Host,
		"port":   m.cfg.Port,
	}
	if err := m.send(addr, auth, from, []string{m.cfg.To}, msg); err != nil {
		m.logger.WithFields(fields).WithError(err).Error("relay_send_failed")
		return fmt.Errorf("send contact email: %w", err)
	}
	m.logger.WithFields(fields).Info("relay_sent")
	return nil
}

func (m *Mailer) compose(from string, c Contact) []byte {
	domain := m.cfg.Host
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = from[at+1:]
	}

	var b strings.Builder
	b.WriteString("To: " + m.cfg.To + "\r\n")
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("Reply-To: " + c.Email + "\r\n")
	// 非 ASCII 姓名按 RFC 2047 编码，纯 ASCII 原样保留。
	b.WriteString("Subject: New contact form submission from " + mime.QEncoding.Encode("utf-8", c.Name) + "\r\n")
	b.WriteString("Date: " + m.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + uuid.NewString() + "@" + domain + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Name: %s\r\nEmail: %s\r\nMessage:\r\n%s\r\n", c.Name, c.Email,
		strings.ReplaceAll(strings.ReplaceAll(c.Message, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}
