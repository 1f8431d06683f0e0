package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Roles table - binds a hand to a control and its sink
		`CREATE TABLE IF NOT EXISTS roles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			handedness TEXT NOT NULL UNIQUE CHECK(handedness IN ('Left', 'Right')),
			gated INTEGER NOT NULL DEFAULT 1,
			sink TEXT NOT NULL DEFAULT '',
			out_low REAL NOT NULL DEFAULT 0,
			out_high REAL NOT NULL DEFAULT 100,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Control states table - last smoothed value per role
		`CREATE TABLE IF NOT EXISTS control_states (
			role TEXT PRIMARY KEY,
			value REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
