package server

import (
	"net/http"

	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/tokens"
)

type chatRequest struct {
	Messages    []tokens.Message `json:"messages"`
	UserMessage string           `json:"userMessage"`
}

// handleChat serves the primary AI reply. A request must carry either a
// messages array or a single userMessage.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, errors.InvalidInput("Request must include either 'messages' array or 'userMessage' string"), s.cfg.Server.Production)
		return
	}

	messages := req.Messages
	if len(messages) == 0 {
		if req.UserMessage == "" {
			httputil.WriteError(w, errors.InvalidInput("Request must include either 'messages' array or 'userMessage' string"), s.cfg.Server.Production)
			return
		}
		messages = []tokens.Message{{Role: "user", Content: req.UserMessage}}
	}

	reply, err := s.provider.Chat(r.Context(), messages)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reply)
}

type userMessageRequest struct {
	UserMessage string `json:"userMessage"`
}

type contextRequest struct {
	Context string `json:"context"`
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	var req userMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.UserMessage == "" {
		httputil.WriteError(w, errors.InvalidInput("userMessage must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	reflection := s.provider.ReflectTone(r.Context(), req.UserMessage)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"reflection": reflection})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req userMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.UserMessage == "" {
		httputil.WriteError(w, errors.InvalidInput("userMessage must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	spans := s.provider.Analyze(r.Context(), req.UserMessage)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"spans": spans})
}

func (s *Server) handleRephrase(w http.ResponseWriter, r *http.Request) {
	var req userMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.UserMessage == "" {
		httputil.WriteError(w, errors.InvalidInput("userMessage must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	variants := s.provider.Rephrase(r.Context(), req.UserMessage)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"variants": variants})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Context == "" {
		httputil.WriteError(w, errors.InvalidInput("context must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	suggestions := s.provider.Suggest(r.Context(), req.Context)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) handlePerspective(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Context == "" {
		httputil.WriteError(w, errors.InvalidInput("context must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, s.provider.Perspective(r.Context(), req.Context))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Context == "" {
		httputil.WriteError(w, errors.InvalidInput("context must be a non-empty string"), s.cfg.Server.Production)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, s.provider.Summarize(r.Context(), req.Context))
}
