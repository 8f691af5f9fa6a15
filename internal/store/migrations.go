package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Enrollments table - one row per completed capture session
		`CREATE TABLE IF NOT EXISTS enrollments (
			id TEXT PRIMARY KEY,
			poses TEXT NOT NULL,
			pose_count INTEGER NOT NULL CHECK(pose_count > 0),
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Enrollment captures table - the JPEG still for each pose
		`CREATE TABLE IF NOT EXISTS enrollment_captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
			pose TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			data BLOB NOT NULL,
			captured_at DATETIME NOT NULL,
			UNIQUE(enrollment_id, pose)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_enrollment_captures_enrollment_id ON enrollment_captures(enrollment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_completed_at ON enrollments(completed_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
