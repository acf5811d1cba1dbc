package handlers

import "net/http"

func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.HealthHandler)
	mux.HandleFunc("/api/me", h.GetCurrentUser)

	mux.HandleFunc("/api/generation/jobs", h.EnqueueJob)
	mux.HandleFunc("/api/generation/jobs/{id}", h.GetJob)
	mux.HandleFunc("/api/generation/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("/api/generation/jobs/{id}/retry", h.RetryJob)
	mux.HandleFunc("/api/generation/queue", h.GetQueue)

	mux.HandleFunc("/api/schedule", h.ConfigureSchedule)
	mux.HandleFunc("/api/schedule/start", h.StartSchedule)
	mux.HandleFunc("/api/schedule/stop", h.StopSchedule)
	mux.HandleFunc("/api/credentials/{provider}", h.SetCredential)

	mux.HandleFunc("/api/keywords", h.CreateKeyword)
	mux.HandleFunc("/api/images/config", h.SetImageConfig)

	mux.HandleFunc("GET /api/posts/{id}", h.GetPost)
	mux.HandleFunc("DELETE /api/posts/{id}", h.DeletePost)

	return mux
}
