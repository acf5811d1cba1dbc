package handlers

import (
	"autopublisher/internal/service"
	"net/http"
)

func (h *Handlers) CreateKeyword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req service.CreateKeywordRequest
	if !h.decode(w, r, &req) {
		return
	}

	kw, err := h.KeywordService.CreateKeyword(r.Context(), userID, req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, kw, http.StatusCreated)
}

func (h *Handlers) SetImageConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req service.ImageConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg, err := h.KeywordService.SetImageConfig(r.Context(), userID, req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, cfg, http.StatusOK)
}
