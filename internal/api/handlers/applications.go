// applications.go — обработчики /api/v1/applications endpoints.
// Подача заявлений, список и просмотр, переходы жизненного цикла.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/service"
)

// multipartMemory — объём multipart-формы в памяти, остальное во временных файлах.
const multipartMemory = 8 << 20

// Имена частей multipart-запросов.
const (
	formTypeID        = "type_id"
	formFields        = "fields"
	formDocument      = "document"
	formReadyDocument = "ready_document"
)

// createApplicationRequest — JSON-тело подачи заявления без файлов.
type createApplicationRequest struct {
	TypeID string         `json:"type_id"`
	Fields map[string]any `json:"fields"`
}

// rejectRequest — тело POST /api/v1/applications/{id}/reject.
type rejectRequest struct {
	Comment string `json:"comment"`
}

// changeStatusRequest — тело POST /api/v1/applications/{id}/status.
type changeStatusRequest struct {
	Status string `json:"status"`
}

// CreateApplication — POST /api/v1/applications.
//
// multipart/form-data: type_id, fields (JSON-объект, опционально),
// остальные значения формы — текстовые поля, файлы — по имени поля типа.
// application/json: {"type_id": "...", "fields": {...}}.
func (h *APIHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var (
		typeID    string
		fields    map[string]any
		documents map[string]service.Upload
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.writeServiceError(w, r, "submit", fmt.Errorf("%w: некорректная multipart-форма: %w", service.ErrValidation, err))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		var closers []io.Closer
		defer func() {
			for _, c := range closers {
				_ = c.Close()
			}
		}()

		var err error
		typeID, fields, documents, closers, err = parseSubmitForm(r.MultipartForm)
		if err != nil {
			h.writeServiceError(w, r, "submit", err)
			return
		}

	case "application/json", "":
		var req createApplicationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeServiceError(w, r, "submit", fmt.Errorf("%w: некорректный JSON: %w", service.ErrValidation, err))
			return
		}
		typeID, fields = req.TypeID, req.Fields

	default:
		apierrors.ValidationError(w, "Неподдерживаемый Content-Type: ожидается multipart/form-data или application/json")
		return
	}

	if typeID == "" {
		apierrors.ValidationError(w, "Не указан type_id")
		return
	}

	result, err := h.lifecycle.Submit(r.Context(), actor, typeID, fields, documents)
	if err != nil {
		h.writeServiceError(w, r, "submit", err)
		return
	}
	h.writeResult(w, r, http.StatusCreated, actor, result)
}

// parseSubmitForm разбирает multipart-форму подачи заявления.
// Возвращает открытые файлы, которые вызывающий код обязан закрыть.
func parseSubmitForm(form *multipart.Form) (
	typeID string,
	fields map[string]any,
	documents map[string]service.Upload,
	closers []io.Closer,
	err error,
) {
	fields = make(map[string]any)
	for key, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		switch key {
		case formTypeID:
			typeID = values[0]
		case formFields:
			var extra map[string]any
			if err := json.Unmarshal([]byte(values[0]), &extra); err != nil {
				return "", nil, nil, nil, fmt.Errorf("%w: поле fields должно быть JSON-объектом: %w", service.ErrValidation, err)
			}
			for name, v := range extra {
				fields[name] = v
			}
		}
	}
	// Отдельные значения формы имеют приоритет над fields
	for key, values := range form.Value {
		if key == formTypeID || key == formFields || len(values) == 0 {
			continue
		}
		fields[key] = values[0]
	}

	documents = make(map[string]service.Upload, len(form.File))
	for key, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return "", nil, nil, nil, fmt.Errorf("открытие файла поля %q: %w", key, err)
		}
		closers = append(closers, f)
		documents[key] = service.Upload{Filename: headers[0].Filename, Content: f}
	}
	return typeID, fields, documents, closers, nil
}

// ListApplications — GET /api/v1/applications?status=...
// Студент видит только свои заявления, сотрудники — все.
func (h *APIHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var filter model.ApplicationFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.Status(s)
		filter.Status = &status
	}

	apps, err := h.lifecycle.List(r.Context(), actor, filter)
	if err != nil {
		h.writeServiceError(w, r, "list_applications", err)
		return
	}

	resp := applicationListResponse{
		Items: make([]applicationResponse, 0, len(apps)),
		Total: len(apps),
	}
	for _, app := range apps {
		resp.Items = append(resp.Items, mapApplication(app, h.lookupType(r.Context(), app.TypeID), actor))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetApplication — GET /api/v1/applications/{id}.
func (h *APIHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	app, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, r, "get_application", err)
		return
	}
	writeJSON(w, http.StatusOK, mapApplication(app, h.lookupType(r.Context(), app.TypeID), actor))
}

// AcceptApplication — POST /api/v1/applications/{id}/accept.
func (h *APIHandler) AcceptApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	result, err := h.lifecycle.Accept(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, r, "accept", err)
		return
	}
	h.writeResult(w, r, http.StatusOK, actor, result)
}

// RejectApplication — POST /api/v1/applications/{id}/reject.
// Тело: {"comment": "..."}, комментарий обязателен.
func (h *APIHandler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	result, err := h.lifecycle.Reject(r.Context(), chi.URLParam(r, "id"), actor, req.Comment)
	if err != nil {
		h.writeServiceError(w, r, "reject", err)
		return
	}
	h.writeResult(w, r, http.StatusOK, actor, result)
}

// UploadDocument — POST /api/v1/applications/{id}/documents.
// multipart/form-data с частью "document" (pdf, docx, doc).
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	upload, closeFn, err := h.singleFile(w, r, formDocument)
	if err != nil {
		h.writeServiceError(w, r, "upload_document", err)
		return
	}
	defer closeFn()

	result, err := h.lifecycle.UploadDocument(r.Context(), chi.URLParam(r, "id"), actor, upload)
	if err != nil {
		h.writeServiceError(w, r, "upload_document", err)
		return
	}
	h.writeResult(w, r, http.StatusOK, actor, result)
}

// CompleteApplication — POST /api/v1/applications/{id}/complete.
// multipart/form-data с частью "ready_document" (только pdf).
func (h *APIHandler) CompleteApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	upload, closeFn, err := h.singleFile(w, r, formReadyDocument)
	if err != nil {
		h.writeServiceError(w, r, "complete", err)
		return
	}
	defer closeFn()

	result, err := h.lifecycle.Complete(r.Context(), chi.URLParam(r, "id"), actor, upload)
	if err != nil {
		h.writeServiceError(w, r, "complete", err)
		return
	}
	h.writeResult(w, r, http.StatusOK, actor, result)
}

// ChangeApplicationStatus — POST /api/v1/applications/{id}/status.
// Тело: {"status": "under_review" | "in_progress"}.
func (h *APIHandler) ChangeApplicationStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Status == "" {
		apierrors.ValidationError(w, "Не указан status")
		return
	}

	result, err := h.lifecycle.ChangeStatus(r.Context(), chi.URLParam(r, "id"), actor, req.Status)
	if err != nil {
		h.writeServiceError(w, r, "change_status", err)
		return
	}
	h.writeResult(w, r, http.StatusOK, actor, result)
}

// singleFile читает из multipart-формы один файл.
// Отсутствие части не ошибка: сервис вернёт ошибку валидации сам.
func (h *APIHandler) singleFile(w http.ResponseWriter, r *http.Request, part string) (*service.Upload, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, func() {}, fmt.Errorf("%w: ожидается multipart/form-data с частью %q: %w", service.ErrValidation, part, err)
	}

	cleanup := func() { _ = r.MultipartForm.RemoveAll() }
	f, header, err := r.FormFile(part)
	if err != nil {
		return nil, cleanup, nil
	}
	return &service.Upload{Filename: header.Filename, Content: f}, func() {
		_ = f.Close()
		cleanup()
	}, nil
}

// writeResult пишет ответ с заявлением и предупреждениями операции.
func (h *APIHandler) writeResult(w http.ResponseWriter, r *http.Request, status int, actor model.Actor, result *service.Result) {
	resp := mapApplication(result.Application, h.lookupType(r.Context(), result.Application.TypeID), actor)
	resp.Warnings = result.Warnings
	writeJSON(w, status, resp)
}
