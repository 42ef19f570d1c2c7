// Package httputil provides JSON request/response helpers for HTTP handlers.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quietline/quietline/internal/errors"
)

// MaxBodyBytes caps request body size at 10MB, matching the JSON body limit
// enforced at the edge.
const MaxBodyBytes = 10 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a ServiceError as JSON. In production mode, internal
// error messages are replaced with an opaque one.
func WriteError(w http.ResponseWriter, err error, production bool) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("", err)
	}

	body := map[string]interface{}{
		"error": se.Message,
		"code":  se.Code,
	}
	if production && se.HTTPStatus >= http.StatusInternalServerError {
		body["error"] = "An error occurred"
	}
	for k, v := range se.Details {
		body[k] = v
	}

	WriteJSON(w, se.HTTPStatus, body)
}

// DecodeJSON decodes a JSON request body into v, enforcing the body size cap.
func DecodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
