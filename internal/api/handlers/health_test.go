package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// staticChecker — ReadinessChecker с фиксированным результатом.
type staticChecker struct {
	status  string
	message string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"все ok", []string{"ok", "ok"}, "ok"},
		{"есть degraded", []string{"ok", "degraded"}, "degraded"},
		{"fail важнее degraded", []string{"degraded", "fail", "ok"}, "fail"},
		{"нет зависимостей", nil, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallStatus(tt.statuses...); got != tt.want {
				t.Errorf("overallStatus(%v) = %q, ожидалось %q", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []NamedChecker
		wantStatus int
		wantBody   string
	}{
		{
			name: "все зависимости доступны",
			checkers: []NamedChecker{
				{Name: "postgresql", Checker: staticChecker{status: "ok"}},
				{Name: "keycloak", Checker: staticChecker{status: "ok"}},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "blob store деградирован",
			checkers: []NamedChecker{
				{Name: "keycloak", Checker: staticChecker{status: "ok"}},
				{Name: "blobstore", Checker: staticChecker{status: "degraded", message: "медленно"}},
			},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
		},
		{
			name: "неинициализированная зависимость",
			checkers: []NamedChecker{
				{Name: "keycloak", Checker: nil},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("ожидался %d, получен %d", tt.wantStatus, rec.Code)
			}

			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("некорректный JSON: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status = %q, ожидалось %q", resp.Status, tt.wantBody)
			}
			if len(resp.Checks) != len(tt.checkers) {
				t.Errorf("checks = %d, ожидалось %d", len(resp.Checks), len(tt.checkers))
			}
			if resp.Service != serviceName {
				t.Errorf("service = %q", resp.Service)
			}
		})
	}
}

func TestFileURL(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"fs:spravka.pdf", "/api/v1/files/fs:spravka.pdf"},
		{"se:0b7c/отчёт 1.pdf", "/api/v1/files/se:0b7c/%D0%BE%D1%82%D1%87%D1%91%D1%82%201.pdf"},
	}

	for _, tt := range tests {
		if got := fileURL(model.FileRef(tt.ref)); got != tt.want {
			t.Errorf("fileURL(%q) = %q, ожидалось %q", tt.ref, got, tt.want)
		}
	}
}
