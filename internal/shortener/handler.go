package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/httpx"
	"github.com/sundayezeilo/shorturl/sluggen"
)

// HTTPCreateRequest represents the JSON request body for creating a short URL.
type HTTPCreateRequest struct {
	URL             string `json:"url"`
	CustomCode      string `json:"custom_code,omitempty"`
	ValidityMinutes *int   `json:"validity_minutes,omitempty"`
}

// MappingResponse is the JSON view of a Mapping.
type MappingResponse struct {
	ID             string  `json:"id"`
	ShortCode      string  `json:"short_code"`
	ShortURL       string  `json:"short_url"`
	OriginalURL    string  `json:"original_url"`
	CreatedAt      string  `json:"created_at"`
	ExpiresAt      *string `json:"expires_at,omitempty"`
	IsCustom       bool    `json:"is_custom"`
	ClickCount     int64   `json:"click_count"`
	LastAccessedAt *string `json:"last_accessed_at,omitempty"`
	IsActive       bool    `json:"is_active"`
}

// ListResponse is the JSON view of a Page.
type ListResponse struct {
	Items      []MappingResponse `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	TotalCount int64             `json:"total_count"`
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // Base URL for constructing short URLs (e.g., "https://short.ly")
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// CreateURL handles POST /api/urls. It answers 201 for a new mapping and 200
// when an existing one for the URL is returned.
func (h *Handler) CreateURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	if err := validateCreateRequest(req); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"error", err.Error(),
			"url", req.URL,
			"custom_code", req.CustomCode,
		)
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	m, created, err := h.service.CreateShortURL(ctx, CreateRequest{
		OriginalURL:     strings.TrimSpace(req.URL),
		CustomCode:      req.CustomCode,
		ValidityMinutes: req.ValidityMinutes,
	})
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	if !created {
		logger.InfoContext(ctx, "existing short url reused", "code", m.ShortCode)
		httpx.WriteJSON(w, http.StatusOK, h.toResponse(m))
		return
	}

	logger.InfoContext(ctx, "short url created",
		"mapping_id", m.ID.String(),
		"code", m.ShortCode,
		"custom_code", m.IsCustom,
	)

	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(m))
}

// Redirect handles GET /{code}. It counts the click and redirects.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	code := r.PathValue("code")
	if err := validateCodeFormat(code); err != nil {
		logger.WarnContext(ctx, "invalid code format", "code", code, "error", err.Error())
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)
		return
	}

	originalURL, err := h.service.Resolve(ctx, code)
	if err != nil {
		h.handleError(ctx, logger.With("code", code), w, err)
		return
	}

	logger.InfoContext(ctx, "code resolved",
		"code", code,
		"original_url", originalURL,
		"user_agent", r.UserAgent(),
		"referer", r.Referer(),
	)

	http.Redirect(w, r, originalURL, http.StatusFound)
}

// GetStats handles GET /api/urls/{code}/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	code := r.PathValue("code")
	if err := validateCodeFormat(code); err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)
		return
	}

	m, err := h.service.GetStats(ctx, code)
	if err != nil {
		h.handleError(ctx, logger.With("code", code), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.toResponse(m))
}

// ListURLs handles GET /api/urls?page=&limit=.
func (h *Handler) ListURLs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	page, err := httpx.QueryInt(r, "page", 1)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", DefaultPageSize)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	result, err := h.service.ListURLs(ctx, page, limit)
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	resp := ListResponse{
		Items:      make([]MappingResponse, 0, len(result.Items)),
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
		TotalCount: result.TotalCount,
	}
	for _, m := range result.Items {
		resp.Items = append(resp.Items, h.toResponse(m))
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

// DeactivateURL handles DELETE /api/urls/{code}.
func (h *Handler) DeactivateURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	code := r.PathValue("code")
	if err := validateCodeFormat(code); err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)
		return
	}

	if _, err := h.service.Deactivate(ctx, code); err != nil {
		h.handleError(ctx, logger.With("code", code), w, err)
		return
	}

	logger.InfoContext(ctx, "short url deactivated", "code", code)
	w.WriteHeader(http.StatusNoContent)
}

// handleError maps service errors to responses and logs them at a level
// matching their kind.
func (h *Handler) handleError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	status := httpx.ErrorKindToStatus(kind)
	code := httpx.ErrorKindToCode(kind)

	switch kind {
	case errx.Invalid:
		logger.WarnContext(ctx, "invalid request", logAttrs...)
		httpx.WriteError(w, status, code, invalidMessage(err), nil)

	case errx.Conflict:
		logger.WarnContext(ctx, "short code conflict", logAttrs...)
		httpx.WriteError(w, status, code, "This short code is already taken",
			map[string]string{
				"hint": "Try a different custom code or let us generate one for you",
			})

	case errx.NotFound:
		logger.InfoContext(ctx, "short code not found", logAttrs...)
		httpx.WriteError(w, status, code, "short link doesn't exist", nil)

	case errx.Expired:
		logger.InfoContext(ctx, "short code expired", logAttrs...)
		httpx.WriteError(w, status, code, "short link has expired", nil)

	case errx.Unavailable:
		logger.ErrorContext(ctx, "service unavailable", logAttrs...)
		httpx.WriteError(w, status, code, "Service temporarily unavailable. Please try again.", nil)

	default:
		logger.ErrorContext(ctx, "unexpected error", logAttrs...)
		httpx.WriteError(w, status, code, "An unexpected error occurred. Please try again.", nil)
	}
}

func invalidMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return "URL must be a valid http or https address"
	case errors.Is(err, ErrInvalidShortCode):
		return fmt.Sprintf("Short code must be %d-%d letters or digits", sluggen.MinCustomLength, sluggen.MaxCustomLength)
	case errors.Is(err, ErrInvalidValidity):
		return fmt.Sprintf("Validity must be between 1 and %d minutes", MaxValidityMinutes)
	default:
		return "invalid request"
	}
}

func (h *Handler) toResponse(m Mapping) MappingResponse {
	return MappingResponse{
		ID:             m.ID.String(),
		ShortCode:      m.ShortCode,
		ShortURL:       fmt.Sprintf("%s/%s", h.baseURL, m.ShortCode),
		OriginalURL:    m.OriginalURL,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      formatTime(m.ExpiresAt),
		IsCustom:       m.IsCustom,
		ClickCount:     m.ClickCount,
		LastAccessedAt: formatTime(m.LastAccessedAt),
		IsActive:       m.IsActive,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// validateCreateRequest validates the HTTPCreateRequest.
func validateCreateRequest(req HTTPCreateRequest) error {
	if strings.TrimSpace(req.URL) == "" {
		return errors.New("url is required")
	}
	return nil
}

// validateCodeFormat is a cheap guard before touching the service.
func validateCodeFormat(code string) error {
	if code == "" {
		return errors.New("code is required")
	}
	if len(code) > sluggen.MaxCustomLength {
		return errors.New("code too long")
	}
	return nil
}
