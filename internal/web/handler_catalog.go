package web

import (
	"net/http"
	"strings"
)

const maxQueryLen = 200

func (s *Server) handleListMedicines(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	meds, err := s.catalog.Search(r.Context(), query, category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list medicines")
		s.log(r).Error("search medicines failed", "query", query, "category", category, "error", err)
		return
	}

	out := make([]medicineView, 0, len(meds))
	for _, m := range meds {
		out = append(out, newMedicineView(*m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicines": out})
}

func (s *Server) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	m, err := s.catalog.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get medicine")
		s.log(r).Error("get medicine failed", "medicine_id", r.PathValue("id"), "error", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "medicine not found")
		return
	}
	writeJSON(w, http.StatusOK, newMedicineView(*m))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		s.log(r).Error("list categories failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": append([]string{"All"}, categories...)})
}
