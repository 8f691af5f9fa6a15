package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/posecapture/internal/pose"
	"github.com/ayusman/posecapture/internal/store"
)

// EnrollmentHandler handles HTTP requests for stored enrollments.
type EnrollmentHandler struct {
	store *store.Store
}

// NewEnrollmentHandler creates a new EnrollmentHandler with the given store.
func NewEnrollmentHandler(s *store.Store) *EnrollmentHandler {
	return &EnrollmentHandler{store: s}
}

// ServeHTTP routes:
//
//	GET    /api/enrollments
//	GET    /api/enrollments/{id}
//	DELETE /api/enrollments/{id}
//	GET    /api/enrollments/{id}/captures/{pose}
func (h *EnrollmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/enrollments")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "captures":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.image(w, r, id, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type captureResponse struct {
	Pose       string `json:"pose"`
	Sequence   int    `json:"sequence"`
	Size       int    `json:"size"`
	CapturedAt string `json:"captured_at"`
	URL        string `json:"url"`
}

type enrollmentResponse struct {
	ID          string            `json:"id"`
	Poses       []pose.Pose       `json:"poses"`
	StartedAt   string            `json:"started_at"`
	CompletedAt string            `json:"completed_at"`
	Captures    []captureResponse `json:"captures,omitempty"`
}

type listEnrollmentsResponse struct {
	Enrollments []enrollmentResponse `json:"enrollments"`
	Count       int                  `json:"count"`
}

func toEnrollmentResponse(e *store.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:          e.ID,
		Poses:       e.Poses,
		StartedAt:   formatTime(e.StartedAt),
		CompletedAt: formatTime(e.CompletedAt),
	}
}

// list handles GET /api/enrollments.
func (h *EnrollmentHandler) list(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.store.Enrollments().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}

	resp := listEnrollmentsResponse{
		Enrollments: make([]enrollmentResponse, 0, len(enrollments)),
	}
	for _, e := range enrollments {
		resp.Enrollments = append(resp.Enrollments, toEnrollmentResponse(e))
	}
	resp.Count = len(resp.Enrollments)

	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/enrollments/{id}.
func (h *EnrollmentHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.Enrollments().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "enrollment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get enrollment")
		return
	}

	captures, err := h.store.Enrollments().Captures(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get captures")
		return
	}

	resp := toEnrollmentResponse(e)
	for _, c := range captures {
		resp.Captures = append(resp.Captures, captureResponse{
			Pose:       string(c.Pose),
			Sequence:   c.Sequence,
			Size:       c.Size,
			CapturedAt: formatTime(c.CapturedAt),
			URL:        "/api/enrollments/" + id + "/captures/" + string(c.Pose),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /api/enrollments/{id}.
func (h *EnrollmentHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Enrollments().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "enrollment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete enrollment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// image handles GET /api/enrollments/{id}/captures/{pose} and returns the JPEG.
func (h *EnrollmentHandler) image(w http.ResponseWriter, r *http.Request, id, name string) {
	p, err := pose.ParsePose(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.store.Enrollments().GetCapture(id, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get capture")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(c.Data)
}
