// Package plugin runs external hook executables when capture sessions complete.
package plugin

import (
	"encoding/json"
	"time"
)

// ManifestFile is the name of the manifest each hook directory carries.
const ManifestFile = "hook.json"

// Manifest describes a hook and the session events it wants.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Request is written to the hook's stdin as a single JSON document.
type Request struct {
	Event   string          `json:"event"`
	Session SessionPayload  `json:"session"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// SessionPayload carries a completed session. Image data is base64 in JSON.
type SessionPayload struct {
	ID          string         `json:"id"`
	Poses       []string       `json:"poses"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Images      []ImagePayload `json:"images"`
}

type ImagePayload struct {
	Pose       string    `json:"pose"`
	CapturedAt time.Time `json:"captured_at"`
	Data       []byte    `json:"data"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook subscribed to event.
func (h *Hook) Handles(event string) bool {
	for _, e := range h.Manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}
