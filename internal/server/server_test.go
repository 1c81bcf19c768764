package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/api/handlers"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/repository/memstore"
	"github.com/bigkaa/docflow/internal/service"
)

// testActorHeader — заголовок, по которому testAuth определяет пользователя.
// Формат: "<role>:<id>".
const testActorHeader = "X-Test-Actor"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testAuth — middleware аутентификации для тестов без JWT.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, id, ok := strings.Cut(r.Header.Get(testActorHeader), ":")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		actor := model.Actor{ID: id, Username: id, Email: id + "@university.local", Role: role}
		next.ServeHTTP(w, r.WithContext(middleware.ContextWithActor(r.Context(), actor)))
	})
}

type testEnv struct {
	srv    *httptest.Server
	typeID string
}

func newTestEnv(t *testing.T, maxUploadSize int64) *testEnv {
	t.Helper()
	logger := testLogger()

	blobs, err := blobstore.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	store := memstore.New()
	catalog := service.NewCatalogService(store, blobs, 16, time.Minute, logger)
	lifecycle := service.NewLifecycleService(store, blobs, catalog, nil, nil, logger)
	comments := service.NewCommentService(store, logger)

	typ, _, err := catalog.CreateType(context.Background(), service.TypeInput{
		Name: "Справка об обучении",
		Fields: []service.FieldInput{
			{Name: "purpose", Kind: model.FieldKindText, Required: true},
			{Name: model.FieldSentDocument, Kind: model.FieldKindDocument, Required: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	health := handlers.NewHealthHandler(handlers.NamedChecker{Name: "blobstore", Checker: blobs})
	api := handlers.NewAPIHandler(health, catalog, lifecycle, comments, maxUploadSize, logger)

	srv := httptest.NewServer(NewRouter(api, logger, testAuth))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, typeID: typ.ID}
}

// do выполняет запрос от имени пользователя ("" — без аутентификации).
func (e *testEnv) do(t *testing.T, actor, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if actor != "" {
		req.Header.Set(testActorHeader, actor)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, actor, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return e.do(t, actor, method, path, "application/json", body)
}

// multipartBody строит multipart-форму из значений и файлов (имя части → имя файла, содержимое).
func multipartBody(t *testing.T, values map[string]string, files map[string][2]string) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for part, f := range files {
		w, err := mw.CreateFormFile(part, f[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, f[1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType(), &buf
}

// application — поля ответа, проверяемые в тестах.
type application struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	StatusDisplay      string            `json:"status_display"`
	Files              map[string]string `json:"files"`
	ReadyDocumentURL   *string           `json:"ready_document_url"`
	ReviewerCommentID  *string           `json:"reviewer_comment_id"`
	AllowedTransitions []string          `json:"allowed_transitions"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("некорректный JSON ответа: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: ожидался %d, получен %d: %s",
			resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

const (
	student  = rbac.RoleStudent + ":student-1"
	student2 = rbac.RoleStudent + ":student-2"
	reviewer = rbac.RoleReviewer + ":reviewer-1"
)

func (e *testEnv) submit(t *testing.T) application {
	t.Helper()
	ct, body := multipartBody(t,
		map[string]string{"type_id": e.typeID, "purpose": "для военкомата"},
		map[string][2]string{model.FieldSentDocument: {"zayavlenie.pdf", "%PDF-1.4 заявление"}},
	)
	resp := e.do(t, student, http.MethodPost, "/api/v1/applications", ct, body)
	expectStatus(t, resp, http.StatusCreated)
	return decode[application](t, resp)
}

func TestHealthWithoutAuth(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := env.do(t, "", http.MethodGet, path, "", nil)
		expectStatus(t, resp, http.StatusOK)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	resp := env.do(t, "", http.MethodGet, "/api/v1/applications", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestApplicationTypes(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	resp := env.do(t, student, http.MethodGet, "/api/v1/application-types", "", nil)
	expectStatus(t, resp, http.StatusOK)
	types := decode[[]struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}](t, resp)
	if len(types) != 1 || types[0].Name != "Справка об обучении" || len(types[0].Fields) != 2 {
		t.Fatalf("неожиданный каталог: %+v", types)
	}

	resp = env.do(t, student, http.MethodGet, "/api/v1/application-types/"+env.typeID, "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, student, http.MethodGet, "/api/v1/application-types/missing", "", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestApplicationLifecycle(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	app := env.submit(t)
	if app.Status != string(model.StatusCreated) || app.StatusDisplay != "Создано" {
		t.Fatalf("статус после подачи: %s (%s)", app.Status, app.StatusDisplay)
	}
	if app.Files[model.FieldSentDocument] == "" {
		t.Fatal("нет ссылки на отправленный документ")
	}
	if len(app.AllowedTransitions) != 0 {
		t.Errorf("студенту не показываются переходы: %v", app.AllowedTransitions)
	}

	// Переходы доступны только сотрудникам
	resp := env.do(t, student, http.MethodPost, "/api/v1/applications/"+app.ID+"/accept", "", nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = env.do(t, reviewer, http.MethodPost, "/api/v1/applications/"+app.ID+"/accept", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[application](t, resp); got.Status != string(model.StatusInProgress) {
		t.Fatalf("статус после accept: %s", got.Status)
	}

	resp = env.do(t, reviewer, http.MethodPost, "/api/v1/applications/"+app.ID+"/accept", "", nil)
	expectStatus(t, resp, http.StatusConflict)
	if e := decode[errorResponse](t, resp); e.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("код ошибки: %s", e.Error.Code)
	}

	// Готовый документ только в PDF
	ct, body := multipartBody(t, nil, map[string][2]string{"ready_document": {"spravka.docx", "docx"}})
	resp = env.do(t, reviewer, http.MethodPost, "/api/v1/applications/"+app.ID+"/complete", ct, body)
	expectStatus(t, resp, http.StatusBadRequest)

	ct, body = multipartBody(t, nil, map[string][2]string{"ready_document": {"spravka.pdf", "%PDF-1.4 справка"}})
	resp = env.do(t, reviewer, http.MethodPost, "/api/v1/applications/"+app.ID+"/complete", ct, body)
	expectStatus(t, resp, http.StatusOK)
	done := decode[application](t, resp)
	if done.Status != string(model.StatusCompleted) || done.ReadyDocumentURL == nil {
		t.Fatalf("заявление не завершено: %+v", done)
	}

	// Студент скачивает готовый документ
	resp = env.do(t, student, http.MethodGet, *done.ReadyDocumentURL, "", nil)
	expectStatus(t, resp, http.StatusOK)
	content, _ := io.ReadAll(resp.Body)
	if string(content) != "%PDF-1.4 справка" {
		t.Errorf("содержимое файла: %q", content)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("Content-Disposition: %q", cd)
	}

	// Чужой студент не видит заявление и файл
	resp = env.do(t, student2, http.MethodGet, "/api/v1/applications/"+app.ID, "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp = env.do(t, student2, http.MethodGet, *done.ReadyDocumentURL, "", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestRejectAndComment(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	app := env.submit(t)
	path := "/api/v1/applications/" + app.ID + "/reject"

	resp := env.doJSON(t, reviewer, http.MethodPost, path, map[string]string{"comment": "  "})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.doJSON(t, reviewer, http.MethodPost, path, map[string]string{"comment": "Нет подписи декана"})
	expectStatus(t, resp, http.StatusOK)
	rejected := decode[application](t, resp)
	if rejected.Status != string(model.StatusRejected) || rejected.ReviewerCommentID == nil {
		t.Fatalf("заявление не отклонено: %+v", rejected)
	}

	resp = env.do(t, student, http.MethodGet, "/api/v1/comments/"+*rejected.ReviewerCommentID, "", nil)
	expectStatus(t, resp, http.StatusOK)
	comment := decode[struct {
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	}](t, resp)
	if comment.Text != "Нет подписи декана" || comment.AuthorID != "reviewer-1" {
		t.Errorf("комментарий: %+v", comment)
	}

	resp = env.do(t, student2, http.MethodGet, "/api/v1/comments/"+*rejected.ReviewerCommentID, "", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestChangeStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	app := env.submit(t)
	path := "/api/v1/applications/" + app.ID + "/status"

	resp := env.doJSON(t, reviewer, http.MethodPost, path, map[string]string{"status": "completed"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.doJSON(t, reviewer, http.MethodPost, path, map[string]string{"status": "under_review"})
	expectStatus(t, resp, http.StatusOK)
	got := decode[application](t, resp)
	if got.Status != string(model.StatusUnderReview) {
		t.Fatalf("статус: %s", got.Status)
	}
	if len(got.AllowedTransitions) != 1 || got.AllowedTransitions[0] != string(model.StatusInProgress) {
		t.Errorf("доступные переходы: %v", got.AllowedTransitions)
	}

	resp = env.doJSON(t, reviewer, http.MethodPost, path, map[string]string{"status": "under_review"})
	expectStatus(t, resp, http.StatusConflict)
}

func TestListApplications(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.submit(t)
	env.submit(t)

	type list struct {
		Total int `json:"total"`
	}

	resp := env.do(t, student, http.MethodGet, "/api/v1/applications", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[list](t, resp); got.Total != 2 {
		t.Errorf("студент: %d заявлений", got.Total)
	}

	resp = env.do(t, student2, http.MethodGet, "/api/v1/applications", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[list](t, resp); got.Total != 0 {
		t.Errorf("другой студент: %d заявлений", got.Total)
	}

	resp = env.do(t, reviewer, http.MethodGet, "/api/v1/applications?status=created", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[list](t, resp); got.Total != 2 {
		t.Errorf("проверяющий: %d заявлений", got.Total)
	}

	resp = env.do(t, reviewer, http.MethodGet, "/api/v1/applications?status=archived", "", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	// Без обязательного документа
	resp := env.doJSON(t, student, http.MethodPost, "/api/v1/applications", map[string]any{
		"type_id": env.typeID,
		"fields":  map[string]any{"purpose": "x"},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	if e := decode[errorResponse](t, resp); e.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("код ошибки: %s", e.Error.Code)
	}

	resp = env.do(t, student, http.MethodPost, "/api/v1/applications", "text/plain", strings.NewReader("x"))
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSubmitTooLarge(t *testing.T) {
	env := newTestEnv(t, 64)

	resp := env.doJSON(t, student, http.MethodPost, "/api/v1/applications", map[string]any{
		"type_id": env.typeID,
		"fields":  map[string]any{"purpose": strings.Repeat("x", 256)},
	})
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
}
