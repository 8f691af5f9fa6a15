package store

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ayusman/posecapture/internal/pose"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedEnrollment(t *testing.T, s *Store, id string) *Enrollment {
	t.Helper()

	e := &Enrollment{
		ID:          id,
		Poses:       []pose.Pose{pose.Center, pose.Left},
		StartedAt:   baseTime,
		CompletedAt: baseTime.Add(3 * time.Second),
	}
	captures := []Capture{
		{Pose: pose.Center, Sequence: 0, Data: []byte{0xFF, 0xD8, 1}, CapturedAt: baseTime.Add(time.Second)},
		{Pose: pose.Left, Sequence: 1, Data: []byte{0xFF, 0xD8, 2, 2}, CapturedAt: baseTime.Add(3 * time.Second)},
	}
	if err := s.Enrollments().Create(e, captures); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return e
}

func TestEnrollmentRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	created := seedEnrollment(t, s, "e1")

	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set after create")
	}

	got, err := s.Enrollments().GetByID("e1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Poses) != 2 || got.Poses[0] != pose.Center || got.Poses[1] != pose.Left {
		t.Errorf("Poses = %v, want [center left]", got.Poses)
	}
	if !got.StartedAt.Equal(created.StartedAt) || !got.CompletedAt.Equal(created.CompletedAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.StartedAt, got.CompletedAt, created.StartedAt, created.CompletedAt)
	}
}

func TestEnrollmentRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Enrollments().GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestEnrollmentRepository_Captures(t *testing.T) {
	s := newTestStore(t)
	seedEnrollment(t, s, "e1")

	captures, err := s.Enrollments().Captures("e1")
	if err != nil {
		t.Fatalf("Captures() error = %v", err)
	}
	if len(captures) != 2 {
		t.Fatalf("Captures() returned %d, want 2", len(captures))
	}
	if captures[0].Pose != pose.Center || captures[1].Pose != pose.Left {
		t.Errorf("capture order = %s, %s", captures[0].Pose, captures[1].Pose)
	}
	if captures[1].Size != 4 {
		t.Errorf("Size = %d, want 4", captures[1].Size)
	}
	if captures[0].Data != nil {
		t.Error("Captures() should not load image data")
	}
}

func TestEnrollmentRepository_GetCapture(t *testing.T) {
	s := newTestStore(t)
	seedEnrollment(t, s, "e1")

	c, err := s.Enrollments().GetCapture("e1", pose.Left)
	if err != nil {
		t.Fatalf("GetCapture() error = %v", err)
	}
	if !bytes.Equal(c.Data, []byte{0xFF, 0xD8, 2, 2}) {
		t.Errorf("Data = %v", c.Data)
	}

	if _, err := s.Enrollments().GetCapture("e1", pose.Up); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCapture(missing pose) error = %v, want ErrNotFound", err)
	}
}

func TestEnrollmentRepository_CreateRejectsDuplicatePose(t *testing.T) {
	s := newTestStore(t)

	e := &Enrollment{ID: "dup", Poses: []pose.Pose{pose.Center}, StartedAt: baseTime, CompletedAt: baseTime}
	captures := []Capture{
		{Pose: pose.Center, Data: []byte{1}, CapturedAt: baseTime},
		{Pose: pose.Center, Sequence: 1, Data: []byte{2}, CapturedAt: baseTime},
	}

	if err := s.Enrollments().Create(e, captures); err == nil {
		t.Fatal("expected error for duplicate pose")
	}

	// The transaction rolled back, so the enrollment row is gone too.
	if _, err := s.Enrollments().GetByID("dup"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after failed create error = %v, want ErrNotFound", err)
	}
}

func TestEnrollmentRepository_CreateRequiresPoses(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enrollments().Create(&Enrollment{ID: "empty"}, nil); err == nil {
		t.Error("expected error for enrollment without poses")
	}
}

func TestEnrollmentRepository_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	repo := s.Enrollments()

	for i, id := range []string{"old", "new"} {
		at := baseTime.Add(time.Duration(i) * time.Hour)
		e := &Enrollment{ID: id, Poses: []pose.Pose{pose.Center}, StartedAt: at, CompletedAt: at}
		if err := repo.Create(e, []Capture{{Pose: pose.Center, Data: []byte{1}, CapturedAt: at}}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("List() order = %v", ids(list))
	}
}

func TestEnrollmentRepository_DeleteCascades(t *testing.T) {
	s := newTestStore(t)
	seedEnrollment(t, s, "e1")

	if err := s.Enrollments().Delete("e1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	s.DB().QueryRow(`SELECT COUNT(*) FROM enrollment_captures WHERE enrollment_id = ?`, "e1").Scan(&n)
	if n != 0 {
		t.Errorf("%d captures left after delete, want 0", n)
	}

	if err := s.Enrollments().Delete("e1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func ids(list []*Enrollment) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
