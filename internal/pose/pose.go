// Package pose defines the head poses a capture session walks through and the
// immutable sequence that orders them.
package pose

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by sequence construction and lookup.
var (
	ErrEmptySequence   = errors.New("pose sequence is empty")
	ErrIndexOutOfRange = errors.New("pose index out of range")
	ErrRepeatedPose    = errors.New("pose appears more than once in sequence")
	ErrUnknownPose     = errors.New("unknown pose")
)

// Pose is a named required head orientation.
type Pose string

const (
	// Center is the subject looking straight at the camera.
	Center Pose = "center"
	// Left is the head turned to the subject's left.
	Left Pose = "left"
	// Right is the head turned to the subject's right.
	Right Pose = "right"
	// Up is the head tilted upward.
	Up Pose = "up"
	// Down is the head tilted downward.
	Down Pose = "down"
)

// known lists every recognized pose in default capture order.
var known = []Pose{Center, Left, Right, Up, Down}

// ParsePose converts a case-insensitive name into a Pose.
func ParsePose(name string) (Pose, error) {
	p := Pose(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range known {
		if p == k {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPose, name)
}

// Sequence is an ordered, immutable list of required poses.
type Sequence struct {
	poses []Pose
}

// NewSequence builds a sequence from the given poses.
// It fails with ErrEmptySequence if no poses are given and with ErrRepeatedPose
// if a pose is listed twice, since a repeated pose could never be completed.
func NewSequence(poses ...Pose) (*Sequence, error) {
	if len(poses) == 0 {
		return nil, ErrEmptySequence
	}

	seen := make(map[Pose]struct{}, len(poses))
	for _, p := range poses {
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %s", ErrRepeatedPose, p)
		}
		seen[p] = struct{}{}
	}

	cp := make([]Pose, len(poses))
	copy(cp, poses)
	return &Sequence{poses: cp}, nil
}

// ParseSequence builds a sequence from pose names, as found in configuration.
func ParseSequence(names []string) (*Sequence, error) {
	poses := make([]Pose, 0, len(names))
	for _, n := range names {
		p, err := ParsePose(n)
		if err != nil {
			return nil, err
		}
		poses = append(poses, p)
	}
	return NewSequence(poses...)
}

// DefaultSequence returns Center, Left, Right, Up, Down.
func DefaultSequence() *Sequence {
	s, _ := NewSequence(known...)
	return s
}

// DefaultNames returns the names of the default sequence.
func DefaultNames() []string {
	names := make([]string, len(known))
	for i, p := range known {
		names[i] = string(p)
	}
	return names
}

// Len returns the number of poses in the sequence.
func (s *Sequence) Len() int {
	return len(s.poses)
}

// At returns the pose at index i.
func (s *Sequence) At(i int) (Pose, error) {
	if i < 0 || i >= len(s.poses) {
		return "", fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(s.poses))
	}
	return s.poses[i], nil
}

// IsLast reports whether i is the index of the final pose.
func (s *Sequence) IsLast(i int) bool {
	return i == len(s.poses)-1
}

// Index returns the position of p in the sequence.
func (s *Sequence) Index(p Pose) (int, bool) {
	for i, q := range s.poses {
		if q == p {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether p is part of the sequence.
func (s *Sequence) Contains(p Pose) bool {
	_, ok := s.Index(p)
	return ok
}

// Poses returns a copy of the poses in order.
func (s *Sequence) Poses() []Pose {
	cp := make([]Pose, len(s.poses))
	copy(cp, s.poses)
	return cp
}

func (s *Sequence) String() string {
	names := make([]string, len(s.poses))
	for i, p := range s.poses {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
