package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const mappingColumns = `id, original_url, short_code, created_at, expires_at, is_custom, click_count, last_accessed_at, is_active`

func scanMapping(row pgx.Row) (UrlMapping, error) {
	var i UrlMapping
	err := row.Scan(
		&i.ID,
		&i.OriginalUrl,
		&i.ShortCode,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.IsCustom,
		&i.ClickCount,
		&i.LastAccessedAt,
		&i.IsActive,
	)
	return i, err
}

const insertMapping = `INSERT INTO url_mappings (id, original_url, short_code, created_at, expires_at, is_custom, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + mappingColumns

type InsertMappingParams struct {
	ID          uuid.UUID
	OriginalUrl string
	ShortCode   string
	CreatedAt   pgtype.Timestamptz
	ExpiresAt   pgtype.Timestamptz
	IsCustom    bool
	IsActive    bool
}

func (q *Queries) InsertMapping(ctx context.Context, arg InsertMappingParams) (UrlMapping, error) {
	row := q.db.QueryRow(ctx, insertMapping,
		arg.ID,
		arg.OriginalUrl,
		arg.ShortCode,
		arg.CreatedAt,
		arg.ExpiresAt,
		arg.IsCustom,
		arg.IsActive,
	)
	return scanMapping(row)
}

const getMappingByShortCode = `SELECT ` + mappingColumns + `
FROM url_mappings
WHERE short_code = $1`

func (q *Queries) GetMappingByShortCode(ctx context.Context, shortCode string) (UrlMapping, error) {
	return scanMapping(q.db.QueryRow(ctx, getMappingByShortCode, shortCode))
}

// A mapping stays usable through the instant it expires.
const getUsableMappingByOriginalURL = `SELECT ` + mappingColumns + `
FROM url_mappings
WHERE original_url = $1 AND is_active
  AND (expires_at IS NULL OR expires_at >= $2)
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetUsableMappingByOriginalURL(ctx context.Context, originalUrl string, now pgtype.Timestamptz) (UrlMapping, error) {
	return scanMapping(q.db.QueryRow(ctx, getUsableMappingByOriginalURL, originalUrl, now))
}

// The row lock taken by UPDATE serializes concurrent increments of one code.
const incrementClick = `UPDATE url_mappings
SET click_count = click_count + 1,
    last_accessed_at = $2
WHERE short_code = $1
RETURNING ` + mappingColumns

func (q *Queries) IncrementClick(ctx context.Context, shortCode string, accessedAt pgtype.Timestamptz) (UrlMapping, error) {
	return scanMapping(q.db.QueryRow(ctx, incrementClick, shortCode, accessedAt))
}

const listActiveMappings = `SELECT ` + mappingColumns + `
FROM url_mappings
WHERE is_active
ORDER BY created_at DESC, short_code
LIMIT $1 OFFSET $2`

type ListActiveMappingsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListActiveMappings(ctx context.Context, arg ListActiveMappingsParams) ([]UrlMapping, error) {
	rows, err := q.db.Query(ctx, listActiveMappings, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []UrlMapping{}
	for rows.Next() {
		i, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countActiveMappings = `SELECT count(*) FROM url_mappings WHERE is_active`

func (q *Queries) CountActiveMappings(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countActiveMappings).Scan(&count)
	return count, err
}

const deactivateMapping = `UPDATE url_mappings
SET is_active = false
WHERE short_code = $1
RETURNING ` + mappingColumns

func (q *Queries) DeactivateMapping(ctx context.Context, shortCode string) (UrlMapping, error) {
	return scanMapping(q.db.QueryRow(ctx, deactivateMapping, shortCode))
}
