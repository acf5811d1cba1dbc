package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (h *Handlers) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	user, err := h.UserService.GetUser(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeSuccess(w, user, http.StatusOK)
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: "ok", Store: "ok"}
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health.HealthCheck(ctx); err != nil {
			h.Log.Warn("health check failed", zap.Error(err))
			resp = HealthResponse{Status: "degraded", Store: "unreachable"}
			writeSuccess(w, resp, http.StatusServiceUnavailable)
			return
		}
	}
	writeSuccess(w, resp, http.StatusOK)
}
