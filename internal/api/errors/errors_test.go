package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/docflow/internal/service"
)

// TestFromService проверяет сопоставление ошибок сервиса с HTTP-ответами.
func TestFromService(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", fmt.Errorf("%w: пустой комментарий", service.ErrValidation), http.StatusBadRequest, CodeValidationError},
		{"права", fmt.Errorf("%w: роль student", service.ErrForbidden), http.StatusForbidden, CodeForbidden},
		{"переход", fmt.Errorf("%w: accept из completed", service.ErrInvalidTransition), http.StatusConflict, CodeInvalidTransition},
		{"не найдено", fmt.Errorf("%w: заявление", service.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"конфликт", service.ErrConflict, http.StatusConflict, CodeConflict},
		{"прочее", fmt.Errorf("connection refused"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			status := FromService(rec, tt.err)

			if status != tt.wantStatus || rec.Code != tt.wantStatus {
				t.Errorf("статус: вернул %d, записал %d, ожидалось %d", status, rec.Code, tt.wantStatus)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("код: %s, ожидалось %s", body.Error.Code, tt.wantCode)
			}
			if tt.wantStatus == http.StatusInternalServerError && body.Error.Message == tt.err.Error() {
				t.Error("детали внутренней ошибки не должны попадать в ответ")
			}
		})
	}
}
