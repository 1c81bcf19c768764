// types.go — обработчики /api/v1/application-types endpoints.
// Каталог типов заявлений доступен всем аутентифицированным пользователям.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListApplicationTypes — GET /api/v1/application-types.
func (h *APIHandler) ListApplicationTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.catalog.ListTypes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list_types", err)
		return
	}

	resp := make([]applicationTypeResponse, 0, len(types))
	for _, t := range types {
		resp = append(resp, mapApplicationType(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetApplicationType — GET /api/v1/application-types/{id}.
func (h *APIHandler) GetApplicationType(w http.ResponseWriter, r *http.Request) {
	t, err := h.catalog.GetType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get_type", err)
		return
	}
	writeJSON(w, http.StatusOK, mapApplicationType(t))
}
