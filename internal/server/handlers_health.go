package server

import (
	"net/http"
	"time"

	"github.com/quietline/quietline/internal/httputil"
)

const serviceVersion = "1.0.0"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "Quietline API",
		"version": serviceVersion,
		"status":  "running",
		"docs":    "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"model":     s.provider.Model(),
		"database":  s.repo.Status(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
