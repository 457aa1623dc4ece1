package shortener

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/idgen"
)

// memoryRepo is the in-process reference Repository. Records are copied in
// and out so callers can never mutate stored state behind the mutex.
type memoryRepo struct {
	mu         sync.RWMutex
	byCode     map[string]*Mapping
	byOriginal map[string][]string // original url -> codes in insert order
	ids        idgen.Generator
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository(config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}
	ids := config.IDGenerator
	if ids == nil {
		ids = idgen.NewV7(idgen.WithRetries(1))
	}

	return &memoryRepo{
		byCode:     make(map[string]*Mapping),
		byOriginal: make(map[string][]string),
		ids:        ids,
	}
}

func unavailable(op string, err error) error {
	return errx.E(op, errx.Unavailable, fmt.Errorf("%w: %w", ErrTransient, err))
}

func notFound(op, code string) error {
	return errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", ErrNotFound, code))
}

func (r *memoryRepo) FindByOriginalURL(ctx context.Context, url string, now time.Time) (Mapping, error) {
	const op = "shortener.memoryRepo.FindByOriginalURL"
	if err := ctx.Err(); err != nil {
		return Mapping{}, unavailable(op, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *Mapping
	for _, code := range r.byOriginal[url] {
		m := r.byCode[code]
		if !IsUsable(*m, now) {
			continue
		}
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = m
		}
	}
	if newest == nil {
		return Mapping{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: url %q", ErrNotFound, url))
	}
	return *newest, nil
}

func (r *memoryRepo) FindByShortCode(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.memoryRepo.FindByShortCode"
	if err := ctx.Err(); err != nil {
		return Mapping{}, unavailable(op, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byCode[code]
	if !ok {
		return Mapping{}, notFound(op, code)
	}
	return *m, nil
}

func (r *memoryRepo) Insert(ctx context.Context, m Mapping) (Mapping, error) {
	const op = "shortener.memoryRepo.Insert"
	if err := ctx.Err(); err != nil {
		return Mapping{}, unavailable(op, err)
	}

	if m.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Mapping{}, unavailable(op, err)
		}
		m.ID = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[m.ShortCode]; exists {
		return Mapping{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrDuplicateShortCode, m.ShortCode))
	}

	stored := m
	r.byCode[m.ShortCode] = &stored
	r.byOriginal[m.OriginalURL] = append(r.byOriginal[m.OriginalURL], m.ShortCode)
	return stored, nil
}

func (r *memoryRepo) IncrementClick(ctx context.Context, code string, at time.Time) (Mapping, error) {
	const op = "shortener.memoryRepo.IncrementClick"
	if err := ctx.Err(); err != nil {
		return Mapping{}, unavailable(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byCode[code]
	if !ok {
		return Mapping{}, notFound(op, code)
	}
	m.ClickCount++
	accessed := at
	m.LastAccessedAt = &accessed
	return *m, nil
}

func (r *memoryRepo) ListActive(ctx context.Context, offset, limit int) ([]Mapping, error) {
	const op = "shortener.memoryRepo.ListActive"
	if err := ctx.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	r.mu.RLock()
	active := make([]Mapping, 0, len(r.byCode))
	for _, m := range r.byCode {
		if m.IsActive {
			active = append(active, *m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ShortCode < active[j].ShortCode
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(active) || limit <= 0 {
		return []Mapping{}, nil
	}
	end := min(offset+limit, len(active))
	return active[offset:end], nil
}

func (r *memoryRepo) CountActive(ctx context.Context) (int64, error) {
	const op = "shortener.memoryRepo.CountActive"
	if err := ctx.Err(); err != nil {
		return 0, unavailable(op, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, m := range r.byCode {
		if m.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.memoryRepo.Deactivate"
	if err := ctx.Err(); err != nil {
		return Mapping{}, unavailable(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byCode[code]
	if !ok {
		return Mapping{}, notFound(op, code)
	}
	m.IsActive = false
	return *m, nil
}
