package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	serviceScript = "face_service.py"

	// serviceIdleTimeout is how long the subprocess may sit unused before it is stopped.
	serviceIdleTimeout = 30 * time.Second
)

// ErrServiceNotFound is returned when no face service script can be located.
var ErrServiceNotFound = errors.New(serviceScript + " not found")

// ServiceDetector runs face detection in an external process. Each frame is
// written to the process's stdin as a 4-byte big-endian length followed by the
// JPEG bytes; the process answers with one JSON line per frame.
//
// The process is started on first use and stopped after serviceIdleTimeout
// without frames, so a long idle server does not hold the model in memory.
type ServiceDetector struct {
	config Config
	script string

	mu   sync.Mutex
	proc *serviceProcess
	idle *time.Timer
}

type serviceProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewServiceDetector locates the service script. The process itself is started
// lazily by the first Detect.
func NewServiceDetector(config Config) (*ServiceDetector, error) {
	script := locate(scriptCandidates(config.ScriptPath)...)
	if script == "" {
		return nil, ErrServiceNotFound
	}
	return &ServiceDetector{config: config, script: script}, nil
}

func (d *ServiceDetector) Detect(frame []byte) (Result, error) {
	if len(frame) == 0 {
		return Result{}, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		proc, err := startService(d.script)
		if err != nil {
			return Result{}, err
		}
		d.proc = proc
	}

	line, err := d.proc.roundTrip(frame)
	if err != nil {
		// A broken pipe leaves the stream out of sync; restart on the next frame.
		d.stopLocked()
		return Result{}, err
	}
	d.touchLocked()

	return parseServiceResponse(line, d.config.MinConfidence)
}

// Close stops the service process if it is running.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *ServiceDetector) touchLocked() {
	if d.idle != nil {
		d.idle.Stop()
	}
	d.idle = time.AfterFunc(serviceIdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		log.Debug("stopping idle face service")
		d.stopLocked()
	})
}

func (d *ServiceDetector) stopLocked() error {
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	if d.proc == nil {
		return nil
	}
	err := d.proc.stop()
	d.proc = nil
	return err
}

func startService(script string) (*serviceProcess, error) {
	python := locate(pythonCandidates()...)
	if python == "" {
		python = "python3"
	}

	cmd := exec.Command(python, "-u", script)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start face service: %w", err)
	}

	log.WithFields(log.Fields{
		"python": python,
		"script": script,
		"pid":    cmd.Process.Pid,
	}).Info("face service started")

	return &serviceProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

// roundTrip sends one length-prefixed frame and reads the reply line.
func (p *serviceProcess) roundTrip(frame []byte) ([]byte, error) {
	if err := binary.Write(p.stdin, binary.BigEndian, uint32(len(frame))); err != nil {
		return nil, fmt.Errorf("write frame length: %w", err)
	}
	if _, err := p.stdin.Write(frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

func (p *serviceProcess) stop() error {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}

func scriptCandidates(configured string) []string {
	var paths []string
	if configured != "" {
		paths = append(paths, configured)
	}
	paths = append(paths,
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
	)
	if dir := execDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "scripts", serviceScript))
	}
	return append(paths, filepath.Join(os.Getenv("HOME"), ".posecapture", "scripts", serviceScript))
}

func pythonCandidates() []string {
	paths := []string{
		filepath.Join("venv", "bin", "python"),
		filepath.Join("..", "venv", "bin", "python"),
	}
	if dir := execDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "venv", "bin", "python"))
	}
	return append(paths, filepath.Join(os.Getenv("HOME"), ".posecapture", "venv", "bin", "python"))
}

func execDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

// locate returns the absolute form of the first existing path, or "".
func locate(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}

// jsonFace is one face as reported by the service. X and Y are the top-left
// corner of the box, normalized to the frame.
type jsonFace struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Score float64 `json:"score"`
}

type serviceResponse struct {
	Faces []jsonFace `json:"faces"`
	Error string     `json:"error,omitempty"`
}

// parseServiceResponse decodes one response line and reduces it to a Result.
func parseServiceResponse(line []byte, minConfidence float64) (Result, error) {
	var resp serviceResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Result{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("face service: %s", resp.Error)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if f.Score < minConfidence {
			continue
		}
		faces = append(faces, Face{
			X:          f.X + f.W/2,
			Y:          f.Y + f.H/2,
			W:          f.W,
			H:          f.H,
			Confidence: f.Score,
		})
	}

	return Result{Face: SelectBest(faces)}, nil
}
