package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoleBinding is a persisted role: which hand drives which control and
// which plugin, if any, receives the value.
type RoleBinding struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Handedness string    `json:"handedness"`
	Gated      bool      `json:"gated"`
	Sink       string    `json:"sink"`
	OutLow     float64   `json:"out_low"`
	OutHigh    float64   `json:"out_high"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleRepository provides CRUD operations for role bindings.
type RoleRepository struct {
	db *sql.DB
}

// Roles returns the role repository for this store.
func (s *Store) Roles() *RoleRepository {
	return &RoleRepository{db: s.db}
}

const roleColumns = `id, name, handedness, gated, sink, out_low, out_high, created_at, updated_at`

// Create inserts b, assigning an ID when it has none. Duplicate names or
// handedness labels return ErrConflict.
func (r *RoleRepository) Create(b *RoleBinding) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Handedness, b.Gated, b.Sink, b.OutLow, b.OutHigh, b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("role %s: %w", b.Name, ErrConflict)
	}
	return err
}

// GetByID retrieves a binding by its ID.
func (r *RoleRepository) GetByID(id string) (*RoleBinding, error) {
	return scanRole(r.db.QueryRow(`SELECT `+roleColumns+` FROM roles WHERE id = ?`, id))
}

// GetByName retrieves a binding by its role name.
func (r *RoleRepository) GetByName(name string) (*RoleBinding, error) {
	return scanRole(r.db.QueryRow(`SELECT `+roleColumns+` FROM roles WHERE name = ?`, name))
}

// List returns all bindings ordered by name.
func (r *RoleRepository) List() ([]*RoleBinding, error) {
	rows, err := r.db.Query(`SELECT ` + roleColumns + ` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*RoleBinding
	for rows.Next() {
		b, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// Update overwrites an existing binding.
func (r *RoleRepository) Update(b *RoleBinding) error {
	b.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE roles SET name = ?, handedness = ?, gated = ?, sink = ?, out_low = ?, out_high = ?, updated_at = ?
		 WHERE id = ?`,
		b.Name, b.Handedness, b.Gated, b.Sink, b.OutLow, b.OutHigh, b.UpdatedAt, b.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("role %s: %w", b.Name, ErrConflict)
	}
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// Delete removes a binding by ID.
func (r *RoleRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// EnsureDefaults inserts defaults when no bindings exist yet and reports
// whether it did.
func (r *RoleRepository) EnsureDefaults(defaults []RoleBinding) (bool, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM roles`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	for i := range defaults {
		b := defaults[i]
		if err := r.Create(&b); err != nil {
			return false, err
		}
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*RoleBinding, error) {
	b := &RoleBinding{}
	err := row.Scan(&b.ID, &b.Name, &b.Handedness, &b.Gated, &b.Sink, &b.OutLow, &b.OutHigh, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
