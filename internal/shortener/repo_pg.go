package shortener

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	db "github.com/sundayezeilo/shorturl/internal/db"
	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/idgen"
)

// querier is an internal interface that abstracts *db.Queries
type querier interface {
	InsertMapping(ctx context.Context, arg db.InsertMappingParams) (db.UrlMapping, error)
	GetMappingByShortCode(ctx context.Context, shortCode string) (db.UrlMapping, error)
	GetUsableMappingByOriginalURL(ctx context.Context, originalUrl string, now pgtype.Timestamptz) (db.UrlMapping, error)
	IncrementClick(ctx context.Context, shortCode string, accessedAt pgtype.Timestamptz) (db.UrlMapping, error)
	ListActiveMappings(ctx context.Context, arg db.ListActiveMappingsParams) ([]db.UrlMapping, error)
	CountActiveMappings(ctx context.Context) (int64, error)
	DeactivateMapping(ctx context.Context, shortCode string) (db.UrlMapping, error)
}

type repo struct {
	q   querier
	ids idgen.Generator
}

// RepositoryConfig holds configuration for the repositories.
type RepositoryConfig struct {
	IDGenerator idgen.Generator
}

// NewRepository returns a PostgreSQL-backed Repository.
func NewRepository(q querier, config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}

	// Default: UUID v7 (good for DB locality).
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7(idgen.WithRetries(1))
	}

	return &repo{
		q:   q,
		ids: config.IDGenerator,
	}
}

const shortCodeUniqueConstraint = "url_mappings_short_code_unique"

func isShortCodeUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" &&
		pgErr.ConstraintName == shortCodeUniqueConstraint
}

func mustTime(ts pgtype.Timestamptz, field string) (time.Time, error) {
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%s unexpectedly NULL", field)
	}
	return ts.Time, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func toDomainMapping(x db.UrlMapping) (Mapping, error) {
	createdAt, err := mustTime(x.CreatedAt, "created_at")
	if err != nil {
		return Mapping{}, err
	}

	return Mapping{
		ID:             x.ID,
		OriginalURL:    x.OriginalUrl,
		ShortCode:      x.ShortCode,
		CreatedAt:      createdAt,
		ExpiresAt:      timePtr(x.ExpiresAt),
		IsCustom:       x.IsCustom,
		ClickCount:     x.ClickCount,
		LastAccessedAt: timePtr(x.LastAccessedAt),
		IsActive:       x.IsActive,
	}, nil
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", ErrNotFound, err))

	case isShortCodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", ErrDuplicateShortCode, err))

	default:
		return unavailable(op, err)
	}
}

func (r *repo) toDomain(op string, row db.UrlMapping) (Mapping, error) {
	m, err := toDomainMapping(row)
	if err != nil {
		return Mapping{}, errx.E(op, errx.Internal, err)
	}
	return m, nil
}

func (r *repo) FindByOriginalURL(ctx context.Context, url string, now time.Time) (Mapping, error) {
	const op = "shortener.repo.FindByOriginalURL"

	row, err := r.q.GetUsableMappingByOriginalURL(ctx, url, timestamptz(&now))
	if err != nil {
		return Mapping{}, mapRepoError(op, err)
	}
	return r.toDomain(op, row)
}

func (r *repo) FindByShortCode(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.repo.FindByShortCode"

	row, err := r.q.GetMappingByShortCode(ctx, code)
	if err != nil {
		return Mapping{}, mapRepoError(op, err)
	}
	return r.toDomain(op, row)
}

func (r *repo) Insert(ctx context.Context, m Mapping) (Mapping, error) {
	const op = "shortener.repo.Insert"

	if m.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Mapping{}, unavailable(op, err)
		}
		m.ID = id
	}

	createdAt := m.CreatedAt
	row, err := r.q.InsertMapping(ctx, db.InsertMappingParams{
		ID:          m.ID,
		OriginalUrl: m.OriginalURL,
		ShortCode:   m.ShortCode,
		CreatedAt:   timestamptz(&createdAt),
		ExpiresAt:   timestamptz(m.ExpiresAt),
		IsCustom:    m.IsCustom,
		IsActive:    m.IsActive,
	})
	if err != nil {
		return Mapping{}, mapRepoError(op, err)
	}
	return r.toDomain(op, row)
}

func (r *repo) IncrementClick(ctx context.Context, code string, at time.Time) (Mapping, error) {
	const op = "shortener.repo.IncrementClick"

	row, err := r.q.IncrementClick(ctx, code, timestamptz(&at))
	if err != nil {
		return Mapping{}, mapRepoError(op, err)
	}
	return r.toDomain(op, row)
}

func (r *repo) ListActive(ctx context.Context, offset, limit int) ([]Mapping, error) {
	const op = "shortener.repo.ListActive"

	// LIMIT and OFFSET are int4 parameters
	offset = max(offset, 0)
	if offset > math.MaxInt32 || limit <= 0 {
		return []Mapping{}, nil
	}
	limit = min(limit, math.MaxInt32)

	rows, err := r.q.ListActiveMappings(ctx, db.ListActiveMappingsParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	out := make([]Mapping, 0, len(rows))
	for _, row := range rows {
		m, err := r.toDomain(op, row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *repo) CountActive(ctx context.Context) (int64, error) {
	const op = "shortener.repo.CountActive"

	n, err := r.q.CountActiveMappings(ctx)
	if err != nil {
		return 0, mapRepoError(op, err)
	}
	return n, nil
}

func (r *repo) Deactivate(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.repo.Deactivate"

	row, err := r.q.DeactivateMapping(ctx, code)
	if err != nil {
		return Mapping{}, mapRepoError(op, err)
	}
	return r.toDomain(op, row)
}
