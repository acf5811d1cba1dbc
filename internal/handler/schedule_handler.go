package handlers

import (
	"autopublisher/internal/models"
	"net/http"
)

func (h *Handlers) ConfigureSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var cfg models.ScheduleConfig
	if !h.decode(w, r, &cfg) {
		return
	}

	saved, err := h.GenerationService.ConfigureSchedule(r.Context(), userID, &cfg)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, saved, http.StatusOK)
}

func (h *Handlers) StartSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	cfg, err := h.GenerationService.StartSchedule(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, cfg, http.StatusOK)
}

func (h *Handlers) StopSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	cfg, err := h.GenerationService.StopSchedule(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, cfg, http.StatusOK)
}

type CredentialRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// SetCredential stores an API key for the provider named in the path.
// The secret is never echoed back.
func (h *Handlers) SetCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req CredentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		WriteError(w, "secret is required", http.StatusBadRequest)
		return
	}

	cred, err := h.GenerationService.SetProviderCredential(r.Context(), userID, r.PathValue("provider"), req.Secret)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, cred, http.StatusOK)
}
