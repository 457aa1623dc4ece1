package db

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type UrlMapping struct {
	ID             uuid.UUID
	OriginalUrl    string
	ShortCode      string
	CreatedAt      pgtype.Timestamptz
	ExpiresAt      pgtype.Timestamptz
	IsCustom       bool
	ClickCount     int64
	LastAccessedAt pgtype.Timestamptz
	IsActive       bool
}
