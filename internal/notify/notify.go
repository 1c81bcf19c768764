// Пакет notify — уведомления студентов об изменении статуса заявления.
//
// Доставка асинхронная: сервис жизненного цикла кладёт Notification
// в очередь Dispatcher после фиксации транзакции, воркеры отправляют
// через Sink с повторами (экспоненциальная задержка).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Notification — уведомление об изменении статуса заявления.
type Notification struct {
	// Recipient — email студента
	Recipient string
	// StudentName — имя пользователя для обращения в письме
	StudentName string
	// ApplicationID — UUID заявления
	ApplicationID string
	// TypeName — название типа заявления
	TypeName string
	// OldStatus — статус до перехода (пусто для подачи)
	OldStatus model.Status
	// NewStatus — статус после перехода
	NewStatus model.Status
	// SubmissionDate — дата подачи заявления
	SubmissionDate time.Time
}

// Subject возвращает тему письма.
func (n Notification) Subject() string {
	return fmt.Sprintf("Изменение статуса заявления #%s", n.ApplicationID)
}

// Body возвращает текст письма.
func (n Notification) Body() string {
	name := n.StudentName
	if name == "" {
		name = n.Recipient
	}
	status := n.NewStatus.DisplayName()
	return fmt.Sprintf("Здравствуйте, %s!\n\n"+
		"Статус вашего заявления \"%s\" был изменен на \"%s\".\n\n"+
		"Дата подачи: %s\n"+
		"Текущий статус: %s\n\n"+
		"С уважением,\nКоманда поддержки.",
		name, n.TypeName, status,
		n.SubmissionDate.Format("02.01.2006 15:04"),
		status,
	)
}

// Sink — канал доставки уведомлений.
type Sink interface {
	// Send отправляет уведомление. Ошибка означает, что попытку можно повторить.
	Send(ctx context.Context, n Notification) error
}

// LogSink пишет уведомления в лог (DF_SMTP_HOST не задан).
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "notify_log"))}
}

// Send записывает уведомление в лог на уровне INFO.
func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.logger.Info("Уведомление об изменении статуса",
		slog.String("recipient", n.Recipient),
		slog.String("application_id", n.ApplicationID),
		slog.String("type", n.TypeName),
		slog.String("old_status", string(n.OldStatus)),
		slog.String("new_status", string(n.NewStatus)),
	)
	return nil
}
