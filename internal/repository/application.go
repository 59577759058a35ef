package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
)

const (
	getApplicationByNameSQL = `SELECT id, name, server_key_hashes, client_key_hashes
		FROM applications WHERE name = $1`

	upsertApplicationSQL = `INSERT INTO applications (id, name, server_key_hashes, client_key_hashes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			server_key_hashes = EXCLUDED.server_key_hashes,
			client_key_hashes = EXCLUDED.client_key_hashes`
)

var _ auth.Repository = (*ApplicationRepository)(nil)

// ApplicationRepository provides application lookups backed by PostgreSQL.
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository returns an ApplicationRepository that uses the given pool.
func NewApplicationRepository(pool *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{pool: pool}
}

// FindByName looks up an application by its unique name.
// Returns auth.ErrApplicationNotFound when no application matches.
func (r *ApplicationRepository) FindByName(ctx context.Context, name string) (*auth.Application, error) {
	var app auth.Application
	err := r.pool.QueryRow(ctx, getApplicationByNameSQL, name).Scan(
		&app.ID, &app.Name, &app.ServerKeyHashes, &app.ClientKeyHashes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("finding application %q: %w", name, err)
	}
	return &app, nil
}

// Upsert stores the application, replacing its key hashes.
func (r *ApplicationRepository) Upsert(ctx context.Context, app *auth.Application) error {
	_, err := r.pool.Exec(ctx, upsertApplicationSQL,
		app.ID, app.Name, app.ServerKeyHashes, app.ClientKeyHashes,
	)
	if err != nil {
		return fmt.Errorf("upserting application %q: %w", app.Name, err)
	}
	return nil
}
