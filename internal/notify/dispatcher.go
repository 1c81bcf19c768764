package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки постановки в очередь.
var (
	// ErrQueueFull — очередь заполнена, уведомление отброшено.
	ErrQueueFull = errors.New("очередь уведомлений заполнена")
	// ErrStopped — диспетчер остановлен.
	ErrStopped = errors.New("диспетчер уведомлений остановлен")
	// ErrNoRecipient — у студента нет email.
	ErrNoRecipient = errors.New("не задан email получателя")
)

var (
	// notificationsTotal — итог обработки уведомлений.
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_notifications_total",
			Help: "Количество уведомлений по результату (sent, failed, dropped)",
		},
		[]string{"result"},
	)

	// notificationRetriesTotal — количество повторных попыток отправки.
	notificationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_notification_retries_total",
			Help: "Количество повторных попыток отправки уведомлений",
		},
	)
)

// DispatcherConfig — параметры диспетчера.
type DispatcherConfig struct {
	// QueueSize — ёмкость очереди (DF_NOTIFY_QUEUE_SIZE)
	QueueSize int
	// Workers — количество воркеров (DF_NOTIFY_WORKERS)
	Workers int
	// MaxRetries — максимум повторов одного уведомления (DF_NOTIFY_MAX_RETRIES)
	MaxRetries int
	// InitialInterval — первая задержка между попытками
	InitialInterval time.Duration
	// MaxInterval — максимальная задержка между попытками
	MaxInterval time.Duration
	// SendTimeout — таймаут одной попытки
	SendTimeout time.Duration
}

// Dispatcher — очередь уведомлений с пулом воркеров.
// Enqueue никогда не блокируется.
type Dispatcher struct {
	sink   Sink
	cfg    DispatcherConfig
	queue  chan Notification
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются Start.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	return &Dispatcher{
		sink:   sink,
		cfg:    cfg,
		queue:  make(chan Notification, cfg.QueueSize),
		logger: logger.With(slog.String("component", "notify_dispatcher")),
	}
}

// Start запускает воркеры. Воркеры работают до Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.cfg.Workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx, i)
		}()
	}

	d.logger.Info("Диспетчер уведомлений запущен",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)
}

// Enqueue ставит уведомление в очередь без блокировки.
// Возвращает ErrQueueFull, ErrStopped или ErrNoRecipient.
func (d *Dispatcher) Enqueue(n Notification) error {
	if n.Recipient == "" {
		notificationsTotal.WithLabelValues("dropped").Inc()
		return ErrNoRecipient
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		notificationsTotal.WithLabelValues("dropped").Inc()
		return ErrStopped
	}

	select {
	case d.queue <- n:
		return nil
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Stop прекращает приём уведомлений и ждёт отправки очереди.
// Если ctx истекает раньше, незавершённые отправки прерываются.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("Таймаут остановки диспетчера, отправка прервана",
			slog.Int("pending", len(d.queue)),
		)
	}
	if d.cancel != nil {
		d.cancel()
	}
	<-done

	d.logger.Info("Диспетчер уведомлений остановлен")
}

// worker обрабатывает очередь до её закрытия.
func (d *Dispatcher) worker(ctx context.Context, id int) {
	for n := range d.queue {
		if ctx.Err() != nil {
			notificationsTotal.WithLabelValues("dropped").Inc()
			continue
		}
		if err := d.deliver(ctx, n); err != nil {
			notificationsTotal.WithLabelValues("failed").Inc()
			d.logger.Error("Не удалось доставить уведомление",
				slog.Int("worker", id),
				slog.String("application_id", n.ApplicationID),
				slog.String("recipient", n.Recipient),
				slog.String("error", err.Error()),
			)
			continue
		}
		notificationsTotal.WithLabelValues("sent").Inc()
	}
}

// deliver отправляет уведомление с экспоненциальными повторами.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialInterval
	eb.MaxInterval = d.cfg.MaxInterval
	eb.MaxElapsedTime = 0 // Ограничение — количество повторов

	var b backoff.BackOff = eb
	b = backoff.WithMaxRetries(b, uint64(max(d.cfg.MaxRetries, 0)))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err := d.sink.Send(sendCtx, n)
		if errors.Is(err, ErrInvalidAddress) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		notificationRetriesTotal.Inc()
		d.logger.Warn("Ошибка отправки уведомления, повтор",
			slog.String("application_id", n.ApplicationID),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("после %d попыток: %w", attempt, err)
	}
	return nil
}
