package handlers

import (
	"autopublisher/internal/service"
	"net/http"
)

func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req service.EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	status, err := h.GenerationService.EnqueueGeneration(r.Context(), userID, req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, status, http.StatusAccepted)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	status, err := h.GenerationService.QueryJob(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, status, http.StatusOK)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	status, err := h.GenerationService.CancelJob(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	code := http.StatusOK
	if status.CancelRequested {
		code = http.StatusAccepted
	}
	writeSuccess(w, status, code)
}

func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	status, err := h.GenerationService.RetryJob(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, status, http.StatusAccepted)
}

type QueueResponse struct {
	Jobs  []service.QueueEntry `json:"jobs"`
	Total int                  `json:"total"`
}

func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	entries, err := h.GenerationService.QueryQueue(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, QueueResponse{Jobs: entries, Total: len(entries)}, http.StatusOK)
}
