package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearth-ehr/hearth/internal/platform/db"
	"github.com/hearth-ehr/hearth/internal/platform/httpx"
)

// Repository defines persistence for client records.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Client, error)
	Get(ctx context.Context, id uuid.UUID) (Client, error)
	Create(ctx context.Context, c Client) (Client, error)
	// Update stores c and returns the row as it was before and after.
	Update(ctx context.Context, c Client) (before, after Client, err error)
	Delete(ctx context.Context, id uuid.UUID) (Client, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const clientColumns = `id, first_name, last_name, date_of_birth, coalesce(phone, ''), coalesce(email, ''), status, version, created_at, updated_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.DateOfBirth, &c.Phone, &c.Email, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, fmt.Errorf("clients: %w", httpx.ErrNotFound)
		}
		return Client{}, err
	}
	return c, nil
}

// List returns clients ordered by last name.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Client, error) {
	filter = filter.normalized()
	q := `SELECT ` + clientColumns + ` FROM clients
WHERE ($1 = '' OR last_name ILIKE $1 ESCAPE '\' OR first_name ILIKE $1 ESCAPE '\')
ORDER BY last_name, first_name, id
LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, filter.searchPattern(), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Client, 0, filter.Limit)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get fetches one client.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Client, error) {
	return scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

// Create inserts c at version 1.
func (r *PGRepository) Create(ctx context.Context, c Client) (Client, error) {
	const q = `INSERT INTO clients (id, first_name, last_name, date_of_birth, phone, email, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, nullif($5, ''), nullif($6, ''), $7, 1, $8, $8)
RETURNING ` + clientColumns
	created, err := scanClient(r.pool.QueryRow(ctx, q,
		c.ID, c.FirstName, c.LastName, c.DateOfBirth, c.Phone, c.Email, c.Status, time.Now().UTC()))
	if err != nil {
		return Client{}, mapWriteError(err)
	}
	return created, nil
}

// Update replaces the writable fields of c and bumps its version.
func (r *PGRepository) Update(ctx context.Context, c Client) (Client, Client, error) {
	var before, after Client
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		before, err = scanClient(tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, c.ID))
		if err != nil {
			return err
		}
		const q = `UPDATE clients SET first_name = $2, last_name = $3, date_of_birth = $4,
phone = nullif($5, ''), email = nullif($6, ''), status = $7, version = version + 1, updated_at = $8
WHERE id = $1
RETURNING ` + clientColumns
		after, err = scanClient(tx.QueryRow(ctx, q,
			c.ID, c.FirstName, c.LastName, c.DateOfBirth, c.Phone, c.Email, c.Status, time.Now().UTC()))
		return err
	})
	if err != nil {
		return Client{}, Client{}, mapWriteError(err)
	}
	return before, after, nil
}

// Delete removes a client and returns the deleted row.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) (Client, error) {
	return scanClient(r.pool.QueryRow(ctx, `DELETE FROM clients WHERE id = $1 RETURNING `+clientColumns, id))
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("clients: %s: %w", pgErr.ConstraintName, httpx.ErrDuplicate)
		case "23514", "22007", "22008":
			return fmt.Errorf("clients: %s: %w", pgErr.Message, httpx.ErrValidation)
		}
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
