package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/logging"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())

	views, err := s.gateway.ListConversations(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

type ensureConversationRequest struct {
	PartnerID string `json:"partnerId"`
	AIEnabled *bool  `json:"aiEnabled"`
}

func (s *Server) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())

	var req ensureConversationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.PartnerID == "" {
		httputil.WriteError(w, errors.InvalidInput("partnerId is required"), s.cfg.Server.Production)
		return
	}

	conv, err := s.gateway.EnsureConversation(r.Context(), userID, req.PartnerID, req.AIEnabled)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, errors.InvalidInput("since must be an RFC 3339 timestamp"), s.cfg.Server.Production)
			return
		}
		since = &t
	}

	msgs, err := s.gateway.ListMessages(r.Context(), conversationID, since)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type sendMessageRequest struct {
	ConversationID string                `json:"conversationId"`
	Text           string                `json:"text"`
	Flags          database.MessageFlags `json:"flags"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())

	var req sendMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.ConversationID == "" || req.Text == "" {
		httputil.WriteError(w, errors.InvalidInput("conversationId and text are required"), s.cfg.Server.Production)
		return
	}

	msg, err := s.gateway.SendMessage(r.Context(), userID, req.ConversationID, req.Text, req.Flags)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}
