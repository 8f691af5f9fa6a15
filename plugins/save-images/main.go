// Package main provides a hook that writes completed capture sessions to disk
// as <dir>/<session id>/<index>_<pose>.jpg.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Request mirrors the JSON the hook executor writes to stdin.
type Request struct {
	Event   string          `json:"event"`
	Session Session         `json:"session"`
	Config  json.RawMessage `json:"config"`
}

type Session struct {
	ID     string   `json:"id"`
	Poses  []string `json:"poses"`
	Images []Image  `json:"images"`
}

type Image struct {
	Pose string `json:"pose"`
	Data []byte `json:"data"`
}

// Response is written to stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type hookConfig struct {
	Dir string `json:"dir"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Event != "session_completed" {
		writeErrorResponse(fmt.Sprintf("unsupported event: %s", req.Event))
		return
	}

	written, err := saveImages(req)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}

	data, _ := json.Marshal(map[string][]string{"written": written})
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}

func saveImages(req Request) ([]string, error) {
	cfg := hookConfig{Dir: "captures"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	id := filepath.Base(req.Session.ID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid session id %q", req.Session.ID)
	}

	dir := filepath.Join(cfg.Dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	written := make([]string, 0, len(req.Session.Images))
	for i, img := range req.Session.Images {
		name := fmt.Sprintf("%02d_%s.jpg", i, filepath.Base(img.Pose))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, img.Data, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{
		Success: false,
		Error:   errMsg,
	})
}
