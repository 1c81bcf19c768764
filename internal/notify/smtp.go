package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrInvalidAddress — адрес отправителя или получателя некорректен.
// Повтор отправки не поможет.
var ErrInvalidAddress = errors.New("некорректный email-адрес")

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	SSL      bool // Неявный TLS (SMTPS)
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSink отправляет уведомления письмами через go-mail.
// Соединение открывается на каждое письмо (DialAndSend).
type SMTPSink struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewSMTPSink создаёт SMTP-клиент.
func NewSMTPSink(cfg SMTPConfig, logger *slog.Logger) (*SMTPSink, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(timeout),
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание SMTP-клиента %s: %w", cfg.Host, err)
	}

	return &SMTPSink{
		client: client,
		from:   cfg.From,
		logger: logger.With(slog.String("component", "notify_smtp")),
	}, nil
}

// Send формирует и отправляет письмо о смене статуса.
func (s *SMTPSink) Send(ctx context.Context, n Notification) error {
	msg, err := buildMessage(s.from, n)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("отправка письма %s: %w", n.Recipient, err)
	}

	s.logger.Debug("Письмо отправлено",
		slog.String("recipient", n.Recipient),
		slog.String("application_id", n.ApplicationID),
	)
	return nil
}

// buildMessage собирает письмо из уведомления.
func buildMessage(from string, n Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("%w: отправитель %q: %v", ErrInvalidAddress, from, err)
	}
	if err := msg.To(n.Recipient); err != nil {
		return nil, fmt.Errorf("%w: получатель %q: %v", ErrInvalidAddress, n.Recipient, err)
	}
	msg.Subject(n.Subject())
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, n.Body())
	return msg, nil
}
