package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/sluggen"
)

const (
	MaxURLLength = 2048

	DefaultValidityMinutes = 30
	MaxValidityMinutes     = 525600 // one year

	DefaultMaxAttempts  = 5
	DefaultStoreTimeout = 2 * time.Second

	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Service is the resolution engine: it allocates codes, resolves them, and
// keeps the link cache and the Repository in agreement.
type Service interface {
	// CreateShortURL returns the mapping for req. created is false when an
	// existing mapping for the URL was reused.
	CreateShortURL(ctx context.Context, req CreateRequest) (m Mapping, created bool, err error)
	Resolve(ctx context.Context, code string) (string, error)
	GetStats(ctx context.Context, code string) (Mapping, error)
	ListURLs(ctx context.Context, page, pageSize int) (Page, error)
	Deactivate(ctx context.Context, code string) (Mapping, error)
	// Close waits for in-flight background click recording. Clicks resolved
	// after Close are recorded synchronously.
	Close()
}

// service implements the Service interface.
type service struct {
	repo         Repository
	cache        *linkCache
	generator    sluggen.Generator
	codeLength   int
	maxAttempts  int
	storeTimeout time.Duration
	asyncClicks  bool
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex // guards closed and clicks.Add
	closed bool
	clicks sync.WaitGroup
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Generator   sluggen.Generator
	CodeLength  int
	MaxAttempts int // generated-code allocation rounds (default: 5)

	// Cache is optional; without it every lookup goes to the Repository.
	Cache        CacheBackend
	CacheStats   CacheStats
	ForwardTTL   time.Duration
	ReverseTTL   time.Duration
	CacheTimeout time.Duration

	StoreTimeout time.Duration

	// AsyncClicks records clicks for cache-hit resolves in the background
	// instead of before returning.
	AsyncClicks bool

	Clock  func() time.Time
	Logger *slog.Logger
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	gen := config.Generator
	if gen == nil {
		gen = sluggen.NewBase62()
	}

	codeLength := config.CodeLength
	if codeLength < sluggen.MinCustomLength || codeLength > sluggen.MaxCustomLength {
		codeLength = sluggen.DefaultLength
	}

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	storeTimeout := config.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stats := config.CacheStats
	if stats == nil {
		stats = noopStats{}
	}

	return &service{
		repo: repo,
		cache: &linkCache{
			backend:    config.Cache,
			forwardTTL: durationOr(config.ForwardTTL, DefaultCacheTTL),
			reverseTTL: durationOr(config.ReverseTTL, DefaultCacheTTL),
			timeout:    durationOr(config.CacheTimeout, DefaultCacheTimeout),
			logger:     logger,
			stats:      stats,
		},
		generator:    gen,
		codeLength:   codeLength,
		maxAttempts:  attempts,
		storeTimeout: storeTimeout,
		asyncClicks:  config.AsyncClicks,
		now:          clock,
		logger:       logger,
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// CreateShortURL returns a usable mapping for req.OriginalURL, reusing an
// existing one when no custom code is requested.
func (s *service) CreateShortURL(ctx context.Context, req CreateRequest) (Mapping, bool, error) {
	const op = "shortener.service.CreateShortURL"

	if err := validateURL(req.OriginalURL); err != nil {
		return Mapping{}, false, errx.E(op, errx.Invalid, fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	if req.CustomCode != "" {
		if err := sluggen.ValidateCustom(req.CustomCode); err != nil {
			return Mapping{}, false, errx.E(op, errx.Invalid, fmt.Errorf("%w: %v", ErrInvalidShortCode, err))
		}
	}
	validity, err := validityDuration(req.ValidityMinutes)
	if err != nil {
		return Mapping{}, false, errx.E(op, errx.Invalid, err)
	}

	// Repeated requests for the same URL share one code. A forward-cache hit
	// is returned even if the store would no longer produce it.
	if req.CustomCode == "" {
		if m, ok := s.cache.getForward(ctx, req.OriginalURL); ok && IsUsable(m, s.now()) {
			return m, false, nil
		}

		existing, err := s.findByOriginalURL(ctx, req.OriginalURL, s.now())
		switch {
		case err == nil && IsUsable(existing, s.now()):
			s.cache.setForward(ctx, existing, s.now())
			return existing, false, nil
		case err != nil && !errx.Is(err, errx.NotFound):
			return Mapping{}, false, errx.E(op, errx.KindOf(err), err)
		}
	}

	now := s.now()
	expiresAt := now.Add(validity)
	m := Mapping{
		OriginalURL: req.OriginalURL,
		CreatedAt:   now,
		ExpiresAt:   &expiresAt,
		IsCustom:    req.CustomCode != "",
		IsActive:    true,
	}

	var created Mapping
	if req.CustomCode != "" {
		m.ShortCode = req.CustomCode
		created, err = s.insertCustom(ctx, m)
	} else {
		created, err = s.insertGenerated(ctx, m)
	}
	if err != nil {
		return Mapping{}, false, errx.E(op, errx.KindOf(err), err)
	}

	s.cache.setForward(ctx, created, now)
	s.cache.setReverse(ctx, created, now)

	return created, true, nil
}

func (s *service) insertCustom(ctx context.Context, m Mapping) (Mapping, error) {
	const op = "shortener.service.insertCustom"

	taken, err := s.codeTaken(ctx, m.ShortCode)
	if err != nil {
		return Mapping{}, errx.E(op, errx.KindOf(err), err)
	}
	if taken {
		return Mapping{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrShortCodeTaken, m.ShortCode))
	}

	created, err := s.insert(ctx, m)
	if errors.Is(err, ErrDuplicateShortCode) {
		// Lost the race to a concurrent insert of the same code.
		return Mapping{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrShortCodeTaken, m.ShortCode))
	}
	if err != nil {
		return Mapping{}, errx.E(op, errx.KindOf(err), err)
	}
	return created, nil
}

func (s *service) insertGenerated(ctx context.Context, m Mapping) (Mapping, error) {
	const op = "shortener.service.insertGenerated"

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generator.Generate(s.codeLength)
		if err != nil {
			return Mapping{}, errx.E(op, errx.Unavailable, err)
		}

		taken, err := s.codeTaken(ctx, code)
		if err != nil {
			return Mapping{}, errx.E(op, errx.KindOf(err), err)
		}
		if taken {
			s.logger.DebugContext(ctx, "generated code collided", "code", code, "attempt", attempt)
			continue
		}

		m.ShortCode = code
		created, err := s.insert(ctx, m)
		if err == nil {
			return created, nil
		}

		// Retry on conflict, fail on other errors
		if !errors.Is(err, ErrDuplicateShortCode) {
			return Mapping{}, errx.E(op, errx.KindOf(err), err)
		}
		s.logger.DebugContext(ctx, "generated code lost insert race", "code", code, "attempt", attempt)
	}

	return Mapping{}, errx.E(op, errx.Unavailable,
		fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, s.maxAttempts))
}

// codeTaken checks the reverse cache and then the full store history.
// It is an optimization; the store's unique constraint is authoritative.
func (s *service) codeTaken(ctx context.Context, code string) (bool, error) {
	if _, ok := s.cache.getReverse(ctx, code); ok {
		return true, nil
	}

	_, err := s.findByShortCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errx.Is(err, errx.NotFound):
		return false, nil
	default:
		return false, err
	}
}

// Resolve returns the destination for code and counts the click.
func (s *service) Resolve(ctx context.Context, code string) (string, error) {
	const op = "shortener.service.Resolve"

	if code == "" {
		return "", errx.E(op, errx.Invalid, fmt.Errorf("%w: code cannot be empty", ErrInvalidShortCode))
	}

	now := s.now()

	if entry, ok := s.cache.getReverse(ctx, code); ok {
		if !entry.expired(now) {
			if err := s.recordHit(ctx, code, now); err != nil {
				return "", errx.E(op, errx.KindOf(err), err)
			}
			return entry.URL, nil
		}
		// Let the store report the expiry.
		s.cache.del(ctx, reverseKey(code))
	}

	m, err := s.findByShortCode(ctx, code)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}
	if !IsUsable(m, now) {
		return "", errx.E(op, errx.Expired, fmt.Errorf("%w: %q", ErrExpired, code))
	}

	updated, err := s.incrementClick(ctx, code, now)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	s.cache.setReverse(ctx, updated, now)
	return updated.OriginalURL, nil
}

// recordHit counts a cache-hit resolve. The cache never owns click counts.
func (s *service) recordHit(ctx context.Context, code string, at time.Time) error {
	if s.asyncClicks && s.trackClick() {
		go func() {
			defer s.clicks.Done()
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
			defer cancel()
			if _, err := s.repo.IncrementClick(bg, code, at); err != nil {
				s.logger.WarnContext(bg, "background click recording failed",
					"code", code,
					"error", err.Error(),
					"error_kind", errx.KindOf(err),
				)
			}
		}()
		return nil
	}

	_, err := s.incrementClick(ctx, code, at)
	if errx.Is(err, errx.NotFound) {
		s.cache.del(ctx, reverseKey(code))
	}
	return err
}

// GetStats reads the current record straight from the store.
func (s *service) GetStats(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.service.GetStats"

	if code == "" {
		return Mapping{}, errx.E(op, errx.Invalid, fmt.Errorf("%w: code cannot be empty", ErrInvalidShortCode))
	}

	m, err := s.findByShortCode(ctx, code)
	if err != nil {
		return Mapping{}, errx.E(op, errx.KindOf(err), err)
	}
	return m, nil
}

// ListURLs pages through active mappings, newest first. Pages are 1-based.
func (s *service) ListURLs(ctx context.Context, page, pageSize int) (Page, error) {
	const op = "shortener.service.ListURLs"

	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	total, err := s.repo.CountActive(sctx)
	if err != nil {
		return Page{}, errx.E(op, errx.KindOf(err), err)
	}

	result := Page{
		Items:      []Mapping{},
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
		TotalCount: total,
	}

	// past the last page; also keeps the offset below total
	if page > result.TotalPages {
		return result, nil
	}
	offset := int64(page-1) * int64(pageSize)

	items, err := s.repo.ListActive(sctx, int(offset), pageSize)
	if err != nil {
		return Page{}, errx.E(op, errx.KindOf(err), err)
	}
	result.Items = items
	return result, nil
}

// Deactivate retires code for good. The code stays reserved.
func (s *service) Deactivate(ctx context.Context, code string) (Mapping, error) {
	const op = "shortener.service.Deactivate"

	if code == "" {
		return Mapping{}, errx.E(op, errx.Invalid, fmt.Errorf("%w: code cannot be empty", ErrInvalidShortCode))
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	m, err := s.repo.Deactivate(sctx, code)
	if err != nil {
		return Mapping{}, errx.E(op, errx.KindOf(err), err)
	}

	s.cache.evict(ctx, m)
	return m, nil
}

func (s *service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.clicks.Wait()
}

// trackClick registers a background click unless the service is closed.
func (s *service) trackClick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clicks.Add(1)
	return true
}

func (s *service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *service) findByShortCode(ctx context.Context, code string) (Mapping, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.FindByShortCode(ctx, code)
}

func (s *service) findByOriginalURL(ctx context.Context, originalURL string, now time.Time) (Mapping, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.FindByOriginalURL(ctx, originalURL, now)
}

func (s *service) insert(ctx context.Context, m Mapping) (Mapping, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.Insert(ctx, m)
}

func (s *service) incrementClick(ctx context.Context, code string, at time.Time) (Mapping, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.IncrementClick(ctx, code, at)
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}

func validityDuration(minutes *int) (time.Duration, error) {
	if minutes == nil {
		return DefaultValidityMinutes * time.Minute, nil
	}
	if *minutes < 1 || *minutes > MaxValidityMinutes {
		return 0, fmt.Errorf("%w: %d minutes (must be between 1 and %d)", ErrInvalidValidity, *minutes, MaxValidityMinutes)
	}
	return time.Duration(*minutes) * time.Minute, nil
}
