package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FieldKind — тип поля заявления.
type FieldKind string

const (
	// FieldKindText — текстовое поле (строка или вложенный JSON).
	FieldKindText FieldKind = "text"
	// FieldKindImage — изображение.
	FieldKindImage FieldKind = "image"
	// FieldKindDocument — документ.
	FieldKindDocument FieldKind = "document"
	// FieldKindSignature — подпись.
	FieldKindSignature FieldKind = "signature"
)

// Valid проверяет, является ли тип поля допустимым.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindText, FieldKindImage, FieldKindDocument, FieldKindSignature:
		return true
	default:
		return false
	}
}

// IsFile — true для полей, значение которых хранится в blob store.
func (k FieldKind) IsFile() bool {
	return k == FieldKindImage || k == FieldKindDocument || k == FieldKindSignature
}

// Белые списки расширений файлов.
var (
	// DocumentExtensions — документы (в том числе sent_document и шаблоны полей).
	DocumentExtensions = []string{"pdf", "docx", "doc"}
	// ReadyDocumentExtensions — готовый документ выдаётся только в PDF.
	ReadyDocumentExtensions = []string{"pdf"}
	// SignatureExtensions — изображения подписи.
	SignatureExtensions = []string{"jpg", "png"}
	// ImageExtensions — изображения.
	ImageExtensions = []string{"jpg", "jpeg", "png"}
)

// AllowedExtensions возвращает белый список расширений для типа поля.
// Для текстовых полей возвращает nil.
func (k FieldKind) AllowedExtensions() []string {
	switch k {
	case FieldKindDocument:
		return DocumentExtensions
	case FieldKindSignature:
		return SignatureExtensions
	case FieldKindImage:
		return ImageExtensions
	default:
		return nil
	}
}

// HasAllowedExtension проверяет расширение имени файла (без учёта регистра).
func HasAllowedExtension(filename string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// FieldDefinition — описание поля в шаблоне типа заявления.
type FieldDefinition struct {
	// ID — UUID поля
	ID string
	// Name — имя поля (ключ в fields_data)
	Name string
	// Kind — тип поля
	Kind FieldKind
	// Required — обязательное поле
	Required bool
	// Example — пример заполнения (опционально)
	Example *string
	// TemplateRef — ссылка на шаблон документа в blob store (опционально)
	TemplateRef *string
}

// ApplicationType — шаблон заявления.
// Хранится в таблицах application_types и application_fields.
type ApplicationType struct {
	// ID — UUID типа
	ID string
	// Name — название (уникально)
	Name string
	// Description — описание (опционально)
	Description *string
	// Fields — упорядоченный список полей (порядок вставки)
	Fields []FieldDefinition
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// Field возвращает определение поля по имени.
func (t *ApplicationType) Field(name string) (FieldDefinition, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// RequiredFields возвращает обязательные поля в порядке шаблона.
func (t *ApplicationType) RequiredFields() []FieldDefinition {
	var result []FieldDefinition
	for _, f := range t.Fields {
		if f.Required {
			result = append(result, f)
		}
	}
	return result
}
