package shortener

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	db "github.com/sundayezeilo/shorturl/internal/db"
	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/idgen"
)

/***************
 * Mocks / Stubs
 ***************/

// mockQueries implements the querier interface for testing.
type mockQueries struct {
	insertFunc     func(ctx context.Context, arg db.InsertMappingParams) (db.UrlMapping, error)
	byCodeFunc     func(ctx context.Context, code string) (db.UrlMapping, error)
	byOriginalFunc func(ctx context.Context, url string, now pgtype.Timestamptz) (db.UrlMapping, error)
	incrementFunc  func(ctx context.Context, code string, at pgtype.Timestamptz) (db.UrlMapping, error)
	listFunc       func(ctx context.Context, arg db.ListActiveMappingsParams) ([]db.UrlMapping, error)
	countFunc      func(ctx context.Context) (int64, error)
	deactivateFunc func(ctx context.Context, code string) (db.UrlMapping, error)
}

func (m *mockQueries) InsertMapping(ctx context.Context, arg db.InsertMappingParams) (db.UrlMapping, error) {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, arg)
	}
	return db.UrlMapping{}, nil
}

func (m *mockQueries) GetMappingByShortCode(ctx context.Context, code string) (db.UrlMapping, error) {
	if m.byCodeFunc != nil {
		return m.byCodeFunc(ctx, code)
	}
	return db.UrlMapping{}, pgx.ErrNoRows
}

func (m *mockQueries) GetUsableMappingByOriginalURL(ctx context.Context, url string, now pgtype.Timestamptz) (db.UrlMapping, error) {
	if m.byOriginalFunc != nil {
		return m.byOriginalFunc(ctx, url, now)
	}
	return db.UrlMapping{}, pgx.ErrNoRows
}

func (m *mockQueries) IncrementClick(ctx context.Context, code string, at pgtype.Timestamptz) (db.UrlMapping, error) {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx, code, at)
	}
	return db.UrlMapping{}, pgx.ErrNoRows
}

func (m *mockQueries) ListActiveMappings(ctx context.Context, arg db.ListActiveMappingsParams) ([]db.UrlMapping, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, arg)
	}
	return nil, nil
}

func (m *mockQueries) CountActiveMappings(ctx context.Context) (int64, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx)
	}
	return 0, nil
}

func (m *mockQueries) DeactivateMapping(ctx context.Context, code string) (db.UrlMapping, error) {
	if m.deactivateFunc != nil {
		return m.deactivateFunc(ctx, code)
	}
	return db.UrlMapping{}, pgx.ErrNoRows
}

/***************
 * Helpers
 ***************/

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func makeRow(now time.Time) db.UrlMapping {
	return db.UrlMapping{
		ID:          uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
		OriginalUrl: "https://example.com/docs",
		ShortCode:   "aZ3kP9",
		CreatedAt:   ts(now),
		ExpiresAt:   ts(now.Add(30 * time.Minute)),
		IsActive:    true,
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: shortCodeUniqueConstraint}
}

/***************
 * Tests
 ***************/

func TestRepo_Insert(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedID := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")

	t.Run("assigns id and maps params", func(t *testing.T) {
		var got db.InsertMappingParams
		q := &mockQueries{
			insertFunc: func(_ context.Context, arg db.InsertMappingParams) (db.UrlMapping, error) {
				got = arg
				row := makeRow(now)
				row.ID = arg.ID
				return row, nil
			},
		}
		r := NewRepository(q, &RepositoryConfig{
			IDGenerator: idgen.Func(func() (uuid.UUID, error) { return fixedID, nil }),
		})

		expires := now.Add(30 * time.Minute)
		m, err := r.Insert(context.Background(), Mapping{
			OriginalURL: "https://example.com/docs",
			ShortCode:   "aZ3kP9",
			CreatedAt:   now,
			ExpiresAt:   &expires,
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("Insert() unexpected error: %v", err)
		}
		if got.ID != fixedID || m.ID != fixedID {
			t.Errorf("id = %v/%v, want %v", got.ID, m.ID, fixedID)
		}
		if !got.ExpiresAt.Valid || !got.ExpiresAt.Time.Equal(expires) {
			t.Errorf("ExpiresAt param = %+v, want %v", got.ExpiresAt, expires)
		}
		if !got.CreatedAt.Valid || !got.CreatedAt.Time.Equal(now) {
			t.Errorf("CreatedAt param = %+v, want %v", got.CreatedAt, now)
		}
		if !got.IsActive {
			t.Error("IsActive param = false, want true")
		}
	})

	t.Run("keeps caller id", func(t *testing.T) {
		idCalls := 0
		q := &mockQueries{
			insertFunc: func(_ context.Context, arg db.InsertMappingParams) (db.UrlMapping, error) {
				row := makeRow(now)
				row.ID = arg.ID
				return row, nil
			},
		}
		r := NewRepository(q, &RepositoryConfig{
			IDGenerator: idgen.Func(func() (uuid.UUID, error) {
				idCalls++
				return uuid.New(), nil
			}),
		})

		m, err := r.Insert(context.Background(), Mapping{ID: fixedID, ShortCode: "abc", CreatedAt: now})
		if err != nil {
			t.Fatalf("Insert() unexpected error: %v", err)
		}
		if m.ID != fixedID || idCalls != 0 {
			t.Errorf("id = %v after %d generator calls, want %v after 0", m.ID, idCalls, fixedID)
		}
	})

	t.Run("unique violation is a duplicate", func(t *testing.T) {
		q := &mockQueries{
			insertFunc: func(context.Context, db.InsertMappingParams) (db.UrlMapping, error) {
				return db.UrlMapping{}, uniqueViolation()
			},
		}
		r := NewRepository(q, nil)

		_, err := r.Insert(context.Background(), Mapping{ShortCode: "abc", CreatedAt: now})
		if !errors.Is(err, ErrDuplicateShortCode) {
			t.Fatalf("Insert() error = %v, want ErrDuplicateShortCode", err)
		}
		if errx.KindOf(err) != errx.Conflict {
			t.Errorf("kind = %v, want Conflict", errx.KindOf(err))
		}
	})

	t.Run("other constraint is not a duplicate", func(t *testing.T) {
		q := &mockQueries{
			insertFunc: func(context.Context, db.InsertMappingParams) (db.UrlMapping, error) {
				return db.UrlMapping{}, &pgconn.PgError{Code: "23514", ConstraintName: "url_mappings_short_code_length"}
			},
		}
		r := NewRepository(q, nil)

		_, err := r.Insert(context.Background(), Mapping{ShortCode: "abc", CreatedAt: now})
		if errors.Is(err, ErrDuplicateShortCode) {
			t.Fatal("check violation reported as duplicate")
		}
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("kind = %v, want Unavailable", errx.KindOf(err))
		}
	})

	t.Run("id generator failure", func(t *testing.T) {
		called := false
		q := &mockQueries{
			insertFunc: func(context.Context, db.InsertMappingParams) (db.UrlMapping, error) {
				called = true
				return db.UrlMapping{}, nil
			},
		}
		r := NewRepository(q, &RepositoryConfig{
			IDGenerator: idgen.Func(func() (uuid.UUID, error) { return uuid.Nil, errors.New("no entropy") }),
		})

		_, err := r.Insert(context.Background(), Mapping{ShortCode: "abc", CreatedAt: now})
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("kind = %v, want Unavailable", errx.KindOf(err))
		}
		if called {
			t.Error("query ran despite id failure")
		}
	})
}

func TestRepo_FindByShortCode(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rowFunc  func(context.Context, string) (db.UrlMapping, error)
		wantKind errx.Kind
		wantErr  error
		check    func(*testing.T, Mapping)
	}{
		{
			name: "found",
			rowFunc: func(context.Context, string) (db.UrlMapping, error) {
				row := makeRow(now)
				row.ClickCount = 7
				row.LastAccessedAt = ts(now.Add(time.Minute))
				return row, nil
			},
			check: func(t *testing.T, m Mapping) {
				if m.ShortCode != "aZ3kP9" || m.ClickCount != 7 {
					t.Errorf("mapping = %+v", m)
				}
				if m.LastAccessedAt == nil || !m.LastAccessedAt.Equal(now.Add(time.Minute)) {
					t.Errorf("LastAccessedAt = %v", m.LastAccessedAt)
				}
				if m.ExpiresAt == nil || !m.ExpiresAt.Equal(now.Add(30*time.Minute)) {
					t.Errorf("ExpiresAt = %v", m.ExpiresAt)
				}
			},
		},
		{
			name: "null optional timestamps",
			rowFunc: func(context.Context, string) (db.UrlMapping, error) {
				row := makeRow(now)
				row.ExpiresAt = pgtype.Timestamptz{}
				return row, nil
			},
			check: func(t *testing.T, m Mapping) {
				if m.ExpiresAt != nil || m.LastAccessedAt != nil {
					t.Errorf("ExpiresAt = %v, LastAccessedAt = %v, want nil", m.ExpiresAt, m.LastAccessedAt)
				}
			},
		},
		{
			name: "no rows",
			rowFunc: func(context.Context, string) (db.UrlMapping, error) {
				return db.UrlMapping{}, pgx.ErrNoRows
			},
			wantKind: errx.NotFound,
			wantErr:  ErrNotFound,
		},
		{
			name: "timeout",
			rowFunc: func(context.Context, string) (db.UrlMapping, error) {
				return db.UrlMapping{}, context.DeadlineExceeded
			},
			wantKind: errx.Unavailable,
			wantErr:  ErrTransient,
		},
		{
			name: "null created_at",
			rowFunc: func(context.Context, string) (db.UrlMapping, error) {
				row := makeRow(now)
				row.CreatedAt = pgtype.Timestamptz{}
				return row, nil
			},
			wantKind: errx.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRepository(&mockQueries{byCodeFunc: tt.rowFunc}, nil)

			m, err := r.FindByShortCode(context.Background(), "aZ3kP9")

			if tt.wantKind != errx.Unknown {
				if errx.KindOf(err) != tt.wantKind {
					t.Fatalf("kind = %v (err %v), want %v", errx.KindOf(err), err, tt.wantKind)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want wrapping %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestRepo_IncrementClick(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotAt pgtype.Timestamptz
	q := &mockQueries{
		incrementFunc: func(_ context.Context, code string, at pgtype.Timestamptz) (db.UrlMapping, error) {
			gotAt = at
			row := makeRow(now)
			row.ShortCode = code
			row.ClickCount = 1
			row.LastAccessedAt = at
			return row, nil
		},
	}
	r := NewRepository(q, nil)

	m, err := r.IncrementClick(context.Background(), "aZ3kP9", now)
	if err != nil {
		t.Fatalf("IncrementClick() unexpected error: %v", err)
	}
	if !gotAt.Valid || !gotAt.Time.Equal(now) {
		t.Errorf("accessed_at param = %+v, want %v", gotAt, now)
	}
	if m.ClickCount != 1 || m.LastAccessedAt == nil {
		t.Errorf("mapping = %+v", m)
	}
}

func TestRepo_ListAndCount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotParams db.ListActiveMappingsParams
	q := &mockQueries{
		listFunc: func(_ context.Context, arg db.ListActiveMappingsParams) ([]db.UrlMapping, error) {
			gotParams = arg
			a, b := makeRow(now), makeRow(now.Add(-time.Minute))
			b.ShortCode = "older1"
			return []db.UrlMapping{a, b}, nil
		},
		countFunc: func(context.Context) (int64, error) { return 12, nil },
	}
	r := NewRepository(q, nil)

	items, err := r.ListActive(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("ListActive() unexpected error: %v", err)
	}
	if gotParams.Offset != 10 || gotParams.Limit != 5 {
		t.Errorf("params = %+v, want offset 10 limit 5", gotParams)
	}
	if len(items) != 2 || items[1].ShortCode != "older1" {
		t.Errorf("items = %+v", items)
	}

	n, err := r.CountActive(context.Background())
	if err != nil || n != 12 {
		t.Errorf("CountActive() = %d, %v; want 12, nil", n, err)
	}
}

func TestRepo_ListActive_Bounds(t *testing.T) {
	tests := []struct {
		name       string
		offset     int
		limit      int
		wantQuery  bool
		wantParams db.ListActiveMappingsParams
	}{
		{"negative offset starts at zero", -5, 10, true, db.ListActiveMappingsParams{Limit: 10, Offset: 0}},
		{"offset beyond int4 is empty", math.MaxInt32 + 1, 10, false, db.ListActiveMappingsParams{}},
		{"huge limit is capped", 0, math.MaxInt32 + 10, true, db.ListActiveMappingsParams{Limit: math.MaxInt32, Offset: 0}},
		{"zero limit is empty", 0, 0, false, db.ListActiveMappingsParams{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queried := false
			var got db.ListActiveMappingsParams
			q := &mockQueries{
				listFunc: func(_ context.Context, arg db.ListActiveMappingsParams) ([]db.UrlMapping, error) {
					queried, got = true, arg
					return nil, nil
				},
			}

			items, err := NewRepository(q, nil).ListActive(context.Background(), tt.offset, tt.limit)
			if err != nil {
				t.Fatalf("ListActive() unexpected error: %v", err)
			}
			if items == nil || len(items) != 0 {
				t.Errorf("items = %v, want empty slice", items)
			}
			if queried != tt.wantQuery {
				t.Fatalf("queried = %v, want %v", queried, tt.wantQuery)
			}
			if queried && got != tt.wantParams {
				t.Errorf("params = %+v, want %+v", got, tt.wantParams)
			}
		})
	}
}

func TestRepo_FindByOriginalURL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotURL string
	var gotNow pgtype.Timestamptz
	q := &mockQueries{
		byOriginalFunc: func(_ context.Context, url string, at pgtype.Timestamptz) (db.UrlMapping, error) {
			gotURL, gotNow = url, at
			return makeRow(now.Add(-time.Minute)), nil
		},
	}
	r := NewRepository(q, nil)

	m, err := r.FindByOriginalURL(context.Background(), "https://example.com/docs", now)
	if err != nil {
		t.Fatalf("FindByOriginalURL() unexpected error: %v", err)
	}
	if gotURL != "https://example.com/docs" {
		t.Errorf("url = %q", gotURL)
	}
	if !gotNow.Valid || !gotNow.Time.Equal(now) {
		t.Errorf("now = %+v, want %v", gotNow, now)
	}
	if m.ShortCode == "" {
		t.Errorf("mapping = %+v, want the stored row", m)
	}

	q.byOriginalFunc = nil
	if _, err := r.FindByOriginalURL(context.Background(), "https://unknown.example", now); errx.KindOf(err) != errx.NotFound {
		t.Errorf("no rows kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestRepo_Deactivate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns inactive mapping", func(t *testing.T) {
		q := &mockQueries{
			deactivateFunc: func(context.Context, string) (db.UrlMapping, error) {
				row := makeRow(now)
				row.IsActive = false
				return row, nil
			},
		}
		m, err := NewRepository(q, nil).Deactivate(context.Background(), "aZ3kP9")
		if err != nil {
			t.Fatalf("Deactivate() unexpected error: %v", err)
		}
		if m.IsActive {
			t.Error("IsActive = true after Deactivate")
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := NewRepository(&mockQueries{}, nil).Deactivate(context.Background(), "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestIsShortCodeUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"matching", uniqueViolation(), true},
		{"wrapped", errors.Join(errors.New("insert"), uniqueViolation()), true},
		{"other unique constraint", &pgconn.PgError{Code: "23505", ConstraintName: "url_mappings_pkey"}, false},
		{"not a pg error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isShortCodeUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isShortCodeUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
