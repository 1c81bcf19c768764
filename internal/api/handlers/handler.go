// handler.go — основной обработчик API docflow.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/service"
)

// APIHandler — основной обработчик API docflow.
type APIHandler struct {
	health        *HealthHandler
	catalog       *service.CatalogService
	lifecycle     *service.LifecycleService
	comments      *service.CommentService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — ограничение размера тела запроса с файлами (байт).
func NewAPIHandler(
	health *HealthHandler,
	catalog *service.CatalogService,
	lifecycle *service.LifecycleService,
	comments *service.CommentService,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		catalog:       catalog,
		lifecycle:     lifecycle,
		comments:      comments,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// requireActor извлекает пользователя из контекста.
// При отсутствии пишет 401 и возвращает false.
func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return model.Actor{}, false
	}
	return actor, true
}

// writeServiceError записывает ответ для ошибки сервиса.
// Внутренние ошибки логируются, клиент получает общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		apierrors.PayloadTooLarge(w, "Превышен допустимый размер запроса")
		return
	}
	if status := apierrors.FromService(w, err); status == http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
