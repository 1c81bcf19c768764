// files.go — обработчик GET /api/v1/files/*.
// Скачивание файла из blob store по ссылке.
package handlers

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// DownloadFile — GET /api/v1/files/{ref}.
// Ссылка передаётся остатком пути, сегменты экранированы.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || raw == "" {
		apierrors.ValidationError(w, "Некорректная ссылка на файл")
		return
	}

	obj, err := h.lifecycle.OpenFile(r.Context(), actor, model.FileRef(raw))
	if err != nil {
		h.writeServiceError(w, r, "download_file", err)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(obj.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj); err != nil {
		h.logger.Warn("Ошибка передачи файла клиенту",
			slog.String("ref", raw),
			slog.String("error", err.Error()),
		)
	}
}
