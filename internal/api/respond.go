package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/unusual-markets/internal/auth"
	"github.com/unusual-markets/internal/kalshi"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/relay"
)

// Error codes carried in error bodies.
const (
	codeBadRequest      = "bad_request"
	codeNotFound        = "not_found"
	codeMethod          = "method_not_allowed"
	codeUpstream        = "upstream_error"
	codeUpstreamTimeout = "upstream_timeout"
	codeInternal        = "internal_error"
	codeCanceled        = "client_closed_request"
)

// statusClientClosed is logged when the caller went away mid-request.
const statusClientClosed = 499

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends {success:false, demo:false, error:{...}} plus an empty
// array under each of dataKeys, so the dashboard never branches on shape.
func writeError(w http.ResponseWriter, status int, code, message string, dataKeys ...string) {
	body := map[string]any{
		"success": false,
		"demo":    false,
		"error":   errorBody{Code: code, Message: message},
	}
	for _, k := range dataKeys {
		body[k] = []struct{}{}
	}
	writeJSON(w, status, body)
}

// classify maps a pipeline error to a status code and error code.
func classify(err error) (int, string) {
	var apiErr *kalshi.APIError
	switch {
	case errors.Is(err, markets.ErrInvalidQuery), errors.Is(err, relay.ErrInvalidTicker):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosed, codeCanceled
	case errors.Is(err, kalshi.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeUpstreamTimeout
	case errors.Is(err, auth.ErrSigningFailed), errors.Is(err, auth.ErrInvalidKey):
		return http.StatusInternalServerError, codeInternal
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, relay.ErrUpstream):
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// fail logs err and writes the structured error response for it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, dataKeys ...string) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, code, err.Error(), dataKeys...)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, codeMethod, r.Method+" not allowed on "+r.URL.Path)
}
