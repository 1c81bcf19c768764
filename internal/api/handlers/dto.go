// dto.go — JSON-представления доменных объектов в ответах API.
package handlers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/docflow/internal/domain/lifecycle"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
)

// filesRoutePrefix — префикс маршрута скачивания файлов.
const filesRoutePrefix = "/api/v1/files/"

type fieldResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Required    bool    `json:"required"`
	Example     *string `json:"example,omitempty"`
	TemplateURL *string `json:"template_url,omitempty"`
}

type applicationTypeResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Fields      []fieldResponse `json:"fields"`
}

type applicationResponse struct {
	ID                  string            `json:"id"`
	StudentID           string            `json:"student_id"`
	TypeID              string            `json:"type_id"`
	TypeName            string            `json:"type_name"`
	Status              string            `json:"status"`
	StatusDisplay       string            `json:"status_display"`
	FieldsData          map[string]any    `json:"fields_data"`
	Files               map[string]string `json:"files,omitempty"`
	SentDocumentURL     *string           `json:"sent_document_url,omitempty"`
	ReadyDocumentURL    *string           `json:"ready_document_url,omitempty"`
	StudentSignatureURL *string           `json:"student_signature_url,omitempty"`
	ReviewerCommentID   *string           `json:"reviewer_comment_id,omitempty"`
	ProrectorCommentID  *string           `json:"prorector_comment_id,omitempty"`
	SubmissionDate      time.Time         `json:"submission_date"`
	UpdatedAt           time.Time         `json:"updated_at"`
	AllowedTransitions  []string          `json:"allowed_transitions,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
}

type applicationListResponse struct {
	Items []applicationResponse `json:"items"`
	Total int                   `json:"total"`
}

type commentResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// fileURL возвращает путь скачивания файла по ссылке.
// Сегменты ссылки экранируются по отдельности, "/" сохраняется.
func fileURL(ref model.FileRef) string {
	segments := strings.Split(string(ref), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return filesRoutePrefix + strings.Join(segments, "/")
}

func refURL(ref *model.FileRef) *string {
	if ref == nil {
		return nil
	}
	u := fileURL(*ref)
	return &u
}

func mapApplicationType(t *model.ApplicationType) applicationTypeResponse {
	resp := applicationTypeResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Fields:      make([]fieldResponse, 0, len(t.Fields)),
	}
	for _, f := range t.Fields {
		field := fieldResponse{
			ID:       f.ID,
			Name:     f.Name,
			Kind:     string(f.Kind),
			Required: f.Required,
			Example:  f.Example,
		}
		if f.TemplateRef != nil {
			ref := model.FileRef(*f.TemplateRef)
			field.TemplateURL = refURL(&ref)
		}
		resp.Fields = append(resp.Fields, field)
	}
	return resp
}

// mapApplication формирует ответ по заявлению.
// typ — тип заявления для ссылок на файлы полей (может быть nil).
// Доступные переходы change_status показываются только сотрудникам.
func mapApplication(app *model.Application, typ *model.ApplicationType, actor model.Actor) applicationResponse {
	resp := applicationResponse{
		ID:                  app.ID,
		StudentID:           app.StudentID,
		TypeID:              app.TypeID,
		TypeName:            app.TypeName,
		Status:              string(app.Status),
		StatusDisplay:       app.Status.DisplayName(),
		FieldsData:          map[string]any(app.FieldsData),
		SentDocumentURL:     refURL(app.SentDocumentRef),
		ReadyDocumentURL:    refURL(app.ReadyDocumentRef),
		StudentSignatureURL: refURL(app.StudentSignatureRef),
		ReviewerCommentID:   app.ReviewerCommentID,
		ProrectorCommentID:  app.ProrectorCommentID,
		SubmissionDate:      app.SubmissionDate,
		UpdatedAt:           app.UpdatedAt,
	}
	if resp.FieldsData == nil {
		resp.FieldsData = map[string]any{}
	}

	if typ != nil {
		for _, f := range typ.Fields {
			if !f.Kind.IsFile() {
				continue
			}
			ref, ok := app.FieldsData[f.Name].(string)
			if !ok || ref == "" {
				continue
			}
			if resp.Files == nil {
				resp.Files = make(map[string]string)
			}
			resp.Files[f.Name] = fileURL(model.FileRef(ref))
		}
	}

	if rbac.IsStaff(actor.Role) {
		for _, s := range lifecycle.AllowedTargets(app.Status) {
			resp.AllowedTransitions = append(resp.AllowedTransitions, string(s))
		}
	}
	return resp
}

func mapComment(c *model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		AuthorID:  c.AuthorID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

// lookupType возвращает тип заявления для ссылок на файлы.
// Ошибка каталога не мешает ответу: ссылки полей просто не заполняются.
func (h *APIHandler) lookupType(ctx context.Context, typeID string) *model.ApplicationType {
	typ, err := h.catalog.GetType(ctx, typeID)
	if err != nil {
		return nil
	}
	return typ
}
