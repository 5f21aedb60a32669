package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/attendant/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const uniqueViolation = "23505"

// Postgres keeps registered guests in PostgreSQL using a pgvector column.
type Postgres struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", types.ErrPersistenceFailure, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", types.ErrPersistenceFailure, err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// initSchema creates the vector extension and the guest table if they don't exist.
// The embedding column has no fixed dimension so any embedder can be used.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS registered_faces (
			name TEXT PRIMARY KEY,
			embedding VECTOR NOT NULL,
			guest_count INT NOT NULL DEFAULT 1 CHECK (guest_count >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// LoadAll returns every registered guest ordered by name.
func (s *Postgres) LoadAll(ctx context.Context) ([]types.RegisteredFace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, embedding, guest_count, created_at
		FROM registered_faces
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", types.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var faces []types.RegisteredFace
	for rows.Next() {
		var f types.RegisteredFace
		var vec pgvector.Vector
		if err := rows.Scan(&f.Name, &vec, &f.GuestCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", types.ErrPersistenceFailure, err)
		}
		f.Embedding = types.Embedding(vec.Slice())
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load: %v", types.ErrPersistenceFailure, err)
	}
	return faces, nil
}

// Upsert inserts the guest or replaces the row with the same name in one statement.
func (s *Postgres) Upsert(ctx context.Context, f types.RegisteredFace) error {
	if err := validate(f); err != nil {
		return err
	}
	vec := pgvector.NewVector([]float32(f.Embedding))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registered_faces (name, embedding, guest_count, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE
		SET embedding = EXCLUDED.embedding, guest_count = EXCLUDED.guest_count, created_at = NOW()
	`, f.Name, vec, f.GuestCount)
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", types.ErrPersistenceFailure, f.Name, err)
	}
	return nil
}

// Stats returns the number of registered guests and the sum of their guest counts.
func (s *Postgres) Stats(ctx context.Context) (count, guests int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(guest_count), 0) FROM registered_faces
	`).Scan(&count, &guests)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: stats: %v", types.ErrPersistenceFailure, err)
	}
	return count, guests, nil
}

// Delete removes a guest. It reports whether a row was removed.
func (s *Postgres) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM registered_faces WHERE name = $1", name)
	if err != nil {
		return false, fmt.Errorf("%w: delete %q: %v", types.ErrPersistenceFailure, name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Rename moves a guest to a new name. It reports whether the old name existed.
func (s *Postgres) Rename(ctx context.Context, oldName, newName string) (bool, error) {
	if newName == "" {
		return false, fmt.Errorf("%w: empty name", types.ErrInvalidInput)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE registered_faces SET name = $2 WHERE name = $1", oldName, newName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, fmt.Errorf("%w: %q is already registered", types.ErrInvalidInput, newName)
		}
		return false, fmt.Errorf("%w: rename %q: %v", types.ErrPersistenceFailure, oldName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns a single guest by name.
func (s *Postgres) Get(ctx context.Context, name string) (types.RegisteredFace, bool, error) {
	var f types.RegisteredFace
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT name, embedding, guest_count, created_at FROM registered_faces WHERE name = $1
	`, name).Scan(&f.Name, &vec, &f.GuestCount, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.RegisteredFace{}, false, nil
	}
	if err != nil {
		return types.RegisteredFace{}, false, fmt.Errorf("%w: get %q: %v", types.ErrPersistenceFailure, name, err)
	}
	f.Embedding = types.Embedding(vec.Slice())
	return f, true, nil
}

// Reset drops the guest table and recreates it empty.
func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS registered_faces CASCADE;`); err != nil {
		return fmt.Errorf("%w: reset: %v", types.ErrPersistenceFailure, err)
	}
	return initSchema(ctx, s.pool)
}

// Ping checks that the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func validate(f types.RegisteredFace) error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name", types.ErrInvalidInput)
	}
	if f.GuestCount < 0 {
		return fmt.Errorf("%w: negative guest count %d", types.ErrInvalidInput, f.GuestCount)
	}
	if len(f.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", types.ErrInvalidInput)
	}
	return nil
}
