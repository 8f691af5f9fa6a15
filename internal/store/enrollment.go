package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/posecapture/internal/pose"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Enrollment is a completed capture session.
type Enrollment struct {
	ID          string      `json:"id"`
	Poses       []pose.Pose `json:"poses"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Capture is the stored image for one pose of an enrollment.
type Capture struct {
	ID           int64     `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	Pose         pose.Pose `json:"pose"`
	Sequence     int       `json:"sequence"`
	Size         int       `json:"size"`
	Data         []byte    `json:"-"`
	CapturedAt   time.Time `json:"captured_at"`
}

// EnrollmentRepository provides CRUD operations for enrollments and their captures.
type EnrollmentRepository struct {
	db *sql.DB
}

// Enrollments returns the enrollment repository for this store.
func (s *Store) Enrollments() *EnrollmentRepository {
	return &EnrollmentRepository{db: s.db}
}

// Create inserts an enrollment and all of its captures in a single transaction.
func (r *EnrollmentRepository) Create(e *Enrollment, captures []Capture) error {
	if len(e.Poses) == 0 {
		return fmt.Errorf("enrollment %s has no poses", e.ID)
	}
	e.CreatedAt = time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO enrollments (id, poses, pose_count, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, joinPoses(e.Poses), len(e.Poses), e.StartedAt, e.CompletedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO enrollment_captures (enrollment_id, pose, sequence, data, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range captures {
		c := &captures[i]
		c.EnrollmentID = e.ID
		c.Size = len(c.Data)
		res, err := stmt.Exec(e.ID, string(c.Pose), c.Sequence, c.Data, c.CapturedAt)
		if err != nil {
			return fmt.Errorf("insert capture %s: %w", c.Pose, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID retrieves an enrollment by its ID.
func (r *EnrollmentRepository) GetByID(id string) (*Enrollment, error) {
	row := r.db.QueryRow(
		`SELECT id, poses, started_at, completed_at, created_at
		 FROM enrollments WHERE id = ?`,
		id,
	)

	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// List retrieves all enrollments, newest first.
func (r *EnrollmentRepository) List() ([]*Enrollment, error) {
	rows, err := r.db.Query(
		`SELECT id, poses, started_at, completed_at, created_at
		 FROM enrollments ORDER BY completed_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return enrollments, nil
}

// Captures returns the capture metadata of an enrollment in sequence order.
// Image data is not loaded; use GetCapture for that.
func (r *EnrollmentRepository) Captures(enrollmentID string) ([]Capture, error) {
	rows, err := r.db.Query(
		`SELECT id, enrollment_id, pose, sequence, length(data), captured_at
		 FROM enrollment_captures
		 WHERE enrollment_id = ?
		 ORDER BY sequence`,
		enrollmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var c Capture
		var p string
		if err := rows.Scan(&c.ID, &c.EnrollmentID, &p, &c.Sequence, &c.Size, &c.CapturedAt); err != nil {
			return nil, err
		}
		c.Pose = pose.Pose(p)
		captures = append(captures, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return captures, nil
}

// GetCapture retrieves the image for one pose of an enrollment.
func (r *EnrollmentRepository) GetCapture(enrollmentID string, p pose.Pose) (*Capture, error) {
	c := &Capture{}
	var name string

	err := r.db.QueryRow(
		`SELECT id, enrollment_id, pose, sequence, data, captured_at
		 FROM enrollment_captures
		 WHERE enrollment_id = ? AND pose = ?`,
		enrollmentID, string(p),
	).Scan(&c.ID, &c.EnrollmentID, &name, &c.Sequence, &c.Data, &c.CapturedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.Pose = pose.Pose(name)
	c.Size = len(c.Data)
	return c, nil
}

// Delete removes an enrollment and, by cascade, its captures.
func (r *EnrollmentRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM enrollments WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Count returns the number of stored enrollments.
func (r *EnrollmentRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM enrollments`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row scanner) (*Enrollment, error) {
	e := &Enrollment{}
	var poses string
	if err := row.Scan(&e.ID, &poses, &e.StartedAt, &e.CompletedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Poses = splitPoses(poses)
	return e, nil
}

func joinPoses(poses []pose.Pose) string {
	names := make([]string, len(poses))
	for i, p := range poses {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}

func splitPoses(s string) []pose.Pose {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	poses := make([]pose.Pose, len(parts))
	for i, p := range parts {
		poses[i] = pose.Pose(p)
	}
	return poses
}
