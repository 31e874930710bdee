package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Staff, error)
	CreateSession(ctx context.Context, id, staffID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const findStaffByEmailSQL = `SELECT id, email, password_hash, role, is_active, created_at, updated_at
FROM staff WHERE lower(email) = lower($1)`

// FindByEmail fetches a staff account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Staff, error) {
	var (
		s                    Staff
		id                   pgtype.UUID
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, findStaffByEmailSQL, email).
		Scan(&id, &s.Email, &s.PasswordHash, &s.Role, &s.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.ID = id.String()
	s.CreatedAt = createdAt.Time
	s.UpdatedAt = updatedAt.Time
	return &s, nil
}

// CreateSession persists login session metadata.
func (r *PGRepository) CreateSession(ctx context.Context, id, staffID string, expiresAt time.Time, ip, ua string) error {
	const q = `INSERT INTO staff_sessions (id, staff_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q,
		id,
		staffID,
		pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""},
	)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM staff_sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
