package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ControlState is the last smoothed value of a role.
type ControlState struct {
	Role      string    `json:"role"`
	Value     float64   `json:"value"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateRepository persists control values across restarts.
type StateRepository struct {
	db *sql.DB
}

// States returns the control state repository for this store.
func (s *Store) States() *StateRepository {
	return &StateRepository{db: s.db}
}

// Save upserts states in one transaction.
func (r *StateRepository) Save(states ...ControlState) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO control_states (role, value, min, max, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(role) DO UPDATE SET value = excluded.value, min = excluded.min,
		 max = excluded.max, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range states {
		states[i].UpdatedAt = now
		st := states[i]
		if _, err := stmt.Exec(st.Role, st.Value, st.Min, st.Max, st.UpdatedAt); err != nil {
			return fmt.Errorf("save state %s: %w", st.Role, err)
		}
	}

	return tx.Commit()
}

// Get returns the saved state for role.
func (r *StateRepository) Get(role string) (*ControlState, error) {
	st := &ControlState{}
	err := r.db.QueryRow(
		`SELECT role, value, min, max, updated_at FROM control_states WHERE role = ?`, role,
	).Scan(&st.Role, &st.Value, &st.Min, &st.Max, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// List returns every saved state ordered by role.
func (r *StateRepository) List() ([]ControlState, error) {
	rows, err := r.db.Query(`SELECT role, value, min, max, updated_at FROM control_states ORDER BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []ControlState
	for rows.Next() {
		var st ControlState
		if err := rows.Scan(&st.Role, &st.Value, &st.Min, &st.Max, &st.UpdatedAt); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Delete drops the saved state for role.
func (r *StateRepository) Delete(role string) error {
	result, err := r.db.Exec(`DELETE FROM control_states WHERE role = ?`, role)
	if err != nil {
		return err
	}
	return affectedOne(result)
}
