package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/pose"
)

// SessionController is the part of app.Controller the session API drives.
type SessionController interface {
	Start(app.SessionConfig) (string, error)
	Abort() error
	Reset()
	Status() app.Status
}

// SessionHandler handles HTTP requests for the capture session.
type SessionHandler struct {
	ctrl     SessionController
	defaults app.SessionConfig
}

// NewSessionHandler creates a SessionHandler. Fields omitted from a start
// request fall back to defaults.
func NewSessionHandler(ctrl SessionController, defaults app.SessionConfig) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, defaults: defaults}
}

// ServeHTTP routes /api/session and /api/session/reset.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/session")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.ctrl.Status())
		case http.MethodPost:
			h.start(w, r)
		case http.MethodDelete:
			h.abort(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "reset":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ctrl.Reset()
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type startSessionRequest struct {
	Poses      []string `json:"poses"`
	Threshold  *float64 `json:"threshold"`
	CooldownMs *int     `json:"cooldown_ms"`
}

type startSessionResponse struct {
	SessionID string     `json:"session_id"`
	Status    app.Status `json:"status"`
}

func (h *SessionHandler) sessionConfig(req startSessionRequest) (app.SessionConfig, error) {
	sc := h.defaults
	// An explicit empty list is an error, not a request for the defaults.
	if req.Poses != nil {
		seq, err := pose.ParseSequence(req.Poses)
		if err != nil {
			return sc, err
		}
		sc.Poses = seq.Poses()
	}
	if req.Threshold != nil {
		sc.Threshold = *req.Threshold
	}
	if req.CooldownMs != nil {
		sc.Cooldown = time.Duration(*req.CooldownMs) * time.Millisecond
	}
	return sc, sc.Validate()
}

// start handles POST /api/session. An empty body starts a session with the defaults.
func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	sc, err := h.sessionConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.ctrl.Start(sc)
	if err != nil {
		writeError(w, startErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: id,
		Status:    h.ctrl.Status(),
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, app.ErrInvalidConfig),
		errors.Is(err, pose.ErrEmptySequence),
		errors.Is(err, pose.ErrRepeatedPose),
		errors.Is(err, pose.ErrUnknownPose):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abort handles DELETE /api/session.
func (h *SessionHandler) abort(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Abort(); err != nil {
		if errors.Is(err, app.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no capture session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}
