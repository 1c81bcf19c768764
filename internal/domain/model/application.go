// Пакет model — доменные типы заявлений, типов заявлений и комментариев.
package model

import "time"

// Имена полей, которые дополнительно заполняют одноимённые ссылки заявления.
const (
	// FieldSentDocument — документ, отправленный студентом.
	FieldSentDocument = "sent_document"
	// FieldStudentSignature — подпись студента.
	FieldStudentSignature = "student_signature"
)

// FileRef — непрозрачная ссылка на файл в blob store.
type FileRef string

// FieldsData — данные полей заявления: имя поля → значение.
// Значение — строка, FileRef (для файловых полей) или вложенный JSON.
type FieldsData map[string]any

// Clone возвращает поверхностную копию.
func (d FieldsData) Clone() FieldsData {
	if d == nil {
		return nil
	}
	result := make(FieldsData, len(d))
	for k, v := range d {
		result[k] = v
	}
	return result
}

// Application — заявление студента.
// Хранится в таблице applications.
type Application struct {
	// ID — UUID заявления
	ID string
	// StudentID — идентификатор студента (sub из JWT), не меняется после создания
	StudentID string
	// StudentEmail — адрес для уведомлений
	StudentEmail string
	// TypeID — UUID типа заявления, не меняется после создания
	TypeID string
	// TypeName — название типа (заполняется при чтении)
	TypeName string
	// Status — текущий статус
	Status Status
	// FieldsData — значения полей
	FieldsData FieldsData
	// SentDocumentRef — документ, отправленный студентом или проверяющим
	SentDocumentRef *FileRef
	// ReadyDocumentRef — готовый документ (PDF)
	ReadyDocumentRef *FileRef
	// StudentSignatureRef — подпись студента
	StudentSignatureRef *FileRef
	// ReviewerCommentID — комментарий проверяющего (при отклонении)
	ReviewerCommentID *string
	// ProrectorCommentID — комментарий проректора (при отклонении)
	ProrectorCommentID *string
	// SubmissionDate — дата подачи, не меняется после создания
	SubmissionDate time.Time
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}

// Clone возвращает копию заявления, не разделяющую указатели с оригиналом.
func (a *Application) Clone() *Application {
	c := *a
	c.FieldsData = a.FieldsData.Clone()
	c.SentDocumentRef = cloneRef(a.SentDocumentRef)
	c.ReadyDocumentRef = cloneRef(a.ReadyDocumentRef)
	c.StudentSignatureRef = cloneRef(a.StudentSignatureRef)
	c.ReviewerCommentID = cloneString(a.ReviewerCommentID)
	c.ProrectorCommentID = cloneString(a.ProrectorCommentID)
	return &c
}

// Comment — неизменяемый комментарий, созданный при отклонении заявления.
// Хранится в таблице comments.
type Comment struct {
	// ID — UUID комментария
	ID string
	// AuthorID — автор (sub из JWT)
	AuthorID string
	// Text — текст комментария
	Text string
	// CreatedAt — время создания
	CreatedAt time.Time
}

// ApplicationFilter — фильтр списка заявлений.
type ApplicationFilter struct {
	// StudentID — только заявления студента (nil — все)
	StudentID *string
	// Status — только заявления в статусе (nil — все)
	Status *Status
}

func cloneRef(r *FileRef) *FileRef {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
