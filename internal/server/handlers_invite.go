package server

import (
	"net/http"

	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/logging"
)

// requestOrigin rebuilds the external origin so invite links point back
// at whatever host the client reached us through.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())

	created, err := s.issuer.Create(r.Context(), userID, requestOrigin(r))
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, created)
}

type acceptRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())

	var req acceptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Code == "" {
		httputil.WriteError(w, errors.InvalidInput("Invite code is required"), s.cfg.Server.Production)
		return
	}

	conversationID, err := s.issuer.Accept(r.Context(), req.Code, userID)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}
