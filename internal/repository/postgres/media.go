package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/pkg/database"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// MediaRepository implements repository.MediaRepository using PostgreSQL.
type MediaRepository struct {
	pool database.DBTX
}

// NewMediaRepository creates a new PostgreSQL-backed media repository.
func NewMediaRepository(pool database.DBTX) *MediaRepository {
	return &MediaRepository{pool: pool}
}

// GetByFilename retrieves a media row by its unique filename. This is the
// dedup lookup on the image hot path.
func (r *MediaRepository) GetByFilename(ctx context.Context, filename string) (*domain.Media, error) {
	query := `SELECT id, filename, url, size, hash, created_at FROM media WHERE filename = $1`

	var m domain.Media
	err := r.pool.QueryRow(ctx, query, filename).Scan(
		&m.ID, &m.Filename, &m.URL, &m.Size, &m.Hash, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan media: %w", err)
	}
	return &m, nil
}

// Create inserts a new media row. A concurrent insert of the same filename
// surfaces as ConflictError; callers resolve it by re-reading.
func (r *MediaRepository) Create(ctx context.Context, m *domain.Media) error {
	query := `
		INSERT INTO media (id, filename, url, size, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, m.ID, m.Filename, m.URL, m.Size, m.Hash, m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &apperrors.ConflictError{Entity: "media", Key: m.Filename, Cause: err}
		}
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}
