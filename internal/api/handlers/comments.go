// comments.go — обработчик GET /api/v1/comments/{id}.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetComment — GET /api/v1/comments/{id}.
// Студент видит только комментарии к своим заявлениям.
func (h *APIHandler) GetComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	c, err := h.comments.GetComment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get_comment", err)
		return
	}
	writeJSON(w, http.StatusOK, mapComment(c))
}
