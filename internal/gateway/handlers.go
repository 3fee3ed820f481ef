package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/soyeahso/fleetd/internal/conn"
	"github.com/soyeahso/fleetd/internal/dispatch"
	"github.com/soyeahso/fleetd/internal/registry"
	"github.com/soyeahso/fleetd/internal/trigger"
)

const maxCommandBytes = 64 * 1024

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Session string `json:"session,omitempty"` // empty for LOGIN
	Command string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited — too many failed auth attempts")
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	res, err := s.dispatcher.Execute(r.Context(), req.Session, req.Command)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusUnauthorized {
			s.authLimiter.recordFailure(r.RemoteAddr)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// statusFor maps dispatcher errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrBadCredential), errors.Is(err, dispatch.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, registry.ErrUnknownAgent), errors.Is(err, trigger.ErrUnknownTrigger):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateAgent):
		return http.StatusConflict
	case errors.Is(err, conn.ErrAgentUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, trigger.ErrBadPattern), errors.Is(err, trigger.ErrBadAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
