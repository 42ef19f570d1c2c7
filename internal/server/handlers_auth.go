package server

import (
	"net/http"

	"github.com/quietline/quietline/internal/auth"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/logging"
)

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Age      *int    `json:"age"`
	Gender   *string `json:"gender"`
	Location *string `json:"location"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, errors.InvalidInput("Email and password (min 6 chars) are required"), s.cfg.Server.Production)
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		httputil.WriteError(w, errors.InvalidInput("Email and password (min 6 chars) are required"), s.cfg.Server.Production)
		return
	}

	token, err := s.authSvc.Register(r.Context(), req.Email, req.Password, auth.Profile{
		Name:     req.Name,
		Age:      req.Age,
		Gender:   req.Gender,
		Location: req.Location,
	})
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, errors.InvalidInput("Email and password are required"), s.cfg.Server.Production)
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, errors.InvalidInput("Email and password are required"), s.cfg.Server.Production)
		return
	}

	token, err := s.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, err, s.cfg.Server.Production)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := logging.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, errors.Unauthorized(""), s.cfg.Server.Production)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]string{
			"id":    userID,
			"email": emailFrom(r.Context()),
		},
	})
}
