package shortener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shorturl/internal/errx"
)

func seedMapping(code, url string, createdAt time.Time) Mapping {
	expires := createdAt.Add(30 * time.Minute)
	return Mapping{
		OriginalURL: url,
		ShortCode:   code,
		CreatedAt:   createdAt,
		ExpiresAt:   &expires,
		IsActive:    true,
	}
}

func TestMemoryRepo_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := r.Insert(ctx, seedMapping("abc123", "https://example.com", now))
	if err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("Insert() did not assign an id")
	}

	got, err := r.FindByShortCode(ctx, "abc123")
	if err != nil {
		t.Fatalf("FindByShortCode() unexpected error: %v", err)
	}
	if got.ID != created.ID || got.OriginalURL != "https://example.com" {
		t.Errorf("FindByShortCode() = %+v, want %+v", got, created)
	}

	_, err = r.FindByShortCode(ctx, "zzz999")
	if !errors.Is(err, ErrNotFound) || errx.KindOf(err) != errx.NotFound {
		t.Errorf("FindByShortCode(missing) error = %v, want NotFound", err)
	}
}

func TestMemoryRepo_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Now()

	if _, err := r.Insert(ctx, seedMapping("dup", "https://a.example", now)); err != nil {
		t.Fatalf("first Insert() unexpected error: %v", err)
	}
	_, err := r.Insert(ctx, seedMapping("dup", "https://b.example", now))
	if !errors.Is(err, ErrDuplicateShortCode) {
		t.Fatalf("second Insert() error = %v, want ErrDuplicateShortCode", err)
	}

	// deactivated codes stay reserved
	if _, err := r.Deactivate(ctx, "dup"); err != nil {
		t.Fatalf("Deactivate() unexpected error: %v", err)
	}
	if _, err := r.Insert(ctx, seedMapping("dup", "https://c.example", now)); !errors.Is(err, ErrDuplicateShortCode) {
		t.Errorf("Insert() after deactivate error = %v, want ErrDuplicateShortCode", err)
	}
}

func TestMemoryRepo_FindByOriginalURL(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	url := "https://example.com/page"

	for i, code := range []string{"old", "newer", "newest"} {
		if _, err := r.Insert(ctx, seedMapping(code, url, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert(%s) unexpected error: %v", code, err)
		}
	}

	got, err := r.FindByOriginalURL(ctx, url, base)
	if err != nil || got.ShortCode != "newest" {
		t.Fatalf("FindByOriginalURL() = %q, %v; want newest", got.ShortCode, err)
	}

	if _, err := r.Deactivate(ctx, "newest"); err != nil {
		t.Fatalf("Deactivate() unexpected error: %v", err)
	}
	got, err = r.FindByOriginalURL(ctx, url, base)
	if err != nil || got.ShortCode != "newer" {
		t.Errorf("FindByOriginalURL() after deactivate = %q, %v; want newer", got.ShortCode, err)
	}

	if _, err := r.FindByOriginalURL(ctx, "https://unknown.example", base); errx.KindOf(err) != errx.NotFound {
		t.Errorf("FindByOriginalURL(unknown) kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestMemoryRepo_FindByOriginalURL_SkipsExpired(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	url := "https://example.com/page"

	long := seedMapping("longone", url, base)
	longExpiry := base.Add(10 * time.Hour)
	long.ExpiresAt = &longExpiry
	short := seedMapping("short1", url, base.Add(time.Second))
	shortExpiry := base.Add(time.Minute)
	short.ExpiresAt = &shortExpiry

	for _, m := range []Mapping{long, short} {
		if _, err := r.Insert(ctx, m); err != nil {
			t.Fatalf("Insert(%s) unexpected error: %v", m.ShortCode, err)
		}
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"newest while usable", base.Add(30 * time.Second), "short1"},
		{"at the expiry instant", shortExpiry, "short1"},
		{"older once newest expired", base.Add(2 * time.Minute), "longone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FindByOriginalURL(ctx, url, tt.at)
			if err != nil || got.ShortCode != tt.want {
				t.Errorf("FindByOriginalURL() = %q, %v; want %q", got.ShortCode, err, tt.want)
			}
		})
	}

	if _, err := r.FindByOriginalURL(ctx, url, base.Add(11*time.Hour)); errx.KindOf(err) != errx.NotFound {
		t.Errorf("all expired kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestMemoryRepo_IncrementClick(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := r.Insert(ctx, seedMapping("hot", "https://example.com", now)); err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}

	const n = 200
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.IncrementClick(ctx, "hot", now.Add(time.Second)); err != nil {
				t.Errorf("IncrementClick() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := r.FindByShortCode(ctx, "hot")
	if got.ClickCount != n {
		t.Errorf("ClickCount = %d, want %d", got.ClickCount, n)
	}
	if got.LastAccessedAt == nil || !got.LastAccessedAt.Equal(now.Add(time.Second)) {
		t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, now.Add(time.Second))
	}

	if _, err := r.IncrementClick(ctx, "cold", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementClick(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepo_ListActive(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		code := fmt.Sprintf("code%d", i)
		if _, err := r.Insert(ctx, seedMapping(code, "https://example.com/"+code, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert(%s) unexpected error: %v", code, err)
		}
	}
	if _, err := r.Deactivate(ctx, "code3"); err != nil {
		t.Fatalf("Deactivate() unexpected error: %v", err)
	}

	n, err := r.CountActive(ctx)
	if err != nil || n != 4 {
		t.Fatalf("CountActive() = %d, %v; want 4, nil", n, err)
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []string
	}{
		{"first page", 0, 2, []string{"code4", "code2"}},
		{"second page", 2, 2, []string{"code1", "code0"}},
		{"short tail", 3, 10, []string{"code0"}},
		{"past end", 4, 2, nil},
		{"zero limit", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := r.ListActive(ctx, tt.offset, tt.limit)
			if err != nil {
				t.Fatalf("ListActive() unexpected error: %v", err)
			}
			if len(items) != len(tt.want) {
				t.Fatalf("ListActive() returned %d items, want %d", len(items), len(tt.want))
			}
			for i, m := range items {
				if m.ShortCode != tt.want[i] {
					t.Errorf("item %d = %s, want %s", i, m.ShortCode, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryRepo_CancelledContext(t *testing.T) {
	r := NewMemoryRepository(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FindByShortCode(ctx, "abc")
	if errx.KindOf(err) != errx.Unavailable || !errors.Is(err, ErrTransient) {
		t.Errorf("FindByShortCode() error = %v, want Unavailable/ErrTransient", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("cancelled lookup reported as not found")
	}
}

func TestMemoryRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository(nil)

	created, err := r.Insert(ctx, seedMapping("copy", "https://example.com", time.Now()))
	if err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}
	created.OriginalURL = "https://evil.example"

	got, _ := r.FindByShortCode(ctx, "copy")
	if got.OriginalURL != "https://example.com" {
		t.Errorf("stored mapping mutated through returned value: %q", got.OriginalURL)
	}
}
