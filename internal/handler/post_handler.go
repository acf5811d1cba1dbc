package handlers

import (
	"net/http"
)

func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	post, err := h.PostService.GetPost(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, post, http.StatusOK)
}

func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.PostService.DeletePost(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
