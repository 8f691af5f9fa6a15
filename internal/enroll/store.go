package enroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/posecapture/internal/pose"
)

var (
	// ErrDuplicatePose is returned when a pose already has a stored image.
	ErrDuplicatePose = errors.New("pose already captured")
	// ErrNotFound is returned when no image exists for a pose.
	ErrNotFound = errors.New("capture not found")
)

// CapturedImage is one accepted still for a pose.
type CapturedImage struct {
	Pose       pose.Pose `json:"pose"`
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// CaptureStore maps each pose to at most one image and remembers insertion order.
// It is not safe for concurrent use; the Machine that owns it is serialized by its caller.
type CaptureStore struct {
	images map[pose.Pose]CapturedImage
	order  []pose.Pose
}

// NewCaptureStore returns an empty store.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{
		images: make(map[pose.Pose]CapturedImage),
	}
}

// Put stores img. It fails with ErrDuplicatePose if the pose is already present,
// leaving the existing image untouched.
func (s *CaptureStore) Put(img CapturedImage) error {
	if _, ok := s.images[img.Pose]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePose, img.Pose)
	}
	s.images[img.Pose] = img
	s.order = append(s.order, img.Pose)
	return nil
}

// Get returns the image stored for p.
func (s *CaptureStore) Get(p pose.Pose) (CapturedImage, error) {
	img, ok := s.images[p]
	if !ok {
		return CapturedImage{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return img, nil
}

// Has reports whether p has a stored image.
func (s *CaptureStore) Has(p pose.Pose) bool {
	_, ok := s.images[p]
	return ok
}

// IsComplete reports whether the stored key set equals the poses of seq.
func (s *CaptureStore) IsComplete(seq *pose.Sequence) bool {
	if seq == nil || len(s.images) != seq.Len() {
		return false
	}
	for _, p := range seq.Poses() {
		if _, ok := s.images[p]; !ok {
			return false
		}
	}
	return true
}

// Clear removes every image.
func (s *CaptureStore) Clear() {
	s.images = make(map[pose.Pose]CapturedImage)
	s.order = nil
}

// Len returns the number of stored images.
func (s *CaptureStore) Len() int {
	return len(s.images)
}

// Poses returns the captured poses in insertion order.
func (s *CaptureStore) Poses() []pose.Pose {
	out := make([]pose.Pose, len(s.order))
	copy(out, s.order)
	return out
}

// Images returns the stored images in insertion order.
func (s *CaptureStore) Images() []CapturedImage {
	out := make([]CapturedImage, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.images[p])
	}
	return out
}
