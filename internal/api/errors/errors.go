// Пакет errors — конструкторы стандартных ошибок API docflow.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/docflow/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InvalidTransition — 409 текущий статус заявления не допускает операцию.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// PayloadTooLarge — 413 превышен размер запроса.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromService записывает ответ для ошибки сервисного слоя и возвращает
// HTTP статус-код. Неизвестные ошибки — 500 без деталей.
func FromService(w http.ResponseWriter, err error) int {
	switch {
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
		return http.StatusBadRequest
	case stderrors.Is(err, service.ErrForbidden):
		Forbidden(w, err.Error())
		return http.StatusForbidden
	case stderrors.Is(err, service.ErrInvalidTransition):
		InvalidTransition(w, err.Error())
		return http.StatusConflict
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
		return http.StatusNotFound
	case stderrors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
		return http.StatusConflict
	default:
		InternalError(w, "Внутренняя ошибка сервера")
		return http.StatusInternalServerError
	}
}
