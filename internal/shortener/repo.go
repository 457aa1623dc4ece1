package shortener

import (
	"context"
	"time"
)

// Repository is the durable, authoritative record of mappings.
//
// Lookups that find nothing fail with errx.NotFound wrapping ErrNotFound.
// Insert fails with errx.Conflict wrapping ErrDuplicateShortCode when the code
// was ever used before. I/O failures, including an expired ctx, fail with
// errx.Unavailable wrapping ErrTransient.
type Repository interface {
	// FindByOriginalURL returns the newest mapping for url that is still
	// usable at now.
	FindByOriginalURL(ctx context.Context, url string, now time.Time) (Mapping, error)
	// FindByShortCode returns the mapping regardless of its status.
	FindByShortCode(ctx context.Context, code string) (Mapping, error)
	Insert(ctx context.Context, m Mapping) (Mapping, error)
	// IncrementClick atomically bumps the click count and stamps LastAccessedAt.
	IncrementClick(ctx context.Context, code string, at time.Time) (Mapping, error)
	// ListActive returns active mappings ordered by CreatedAt descending.
	ListActive(ctx context.Context, offset, limit int) ([]Mapping, error)
	CountActive(ctx context.Context) (int64, error)
	// Deactivate marks the mapping inactive. The code stays reserved.
	Deactivate(ctx context.Context, code string) (Mapping, error)
}
