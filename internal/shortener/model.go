package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Mapping binds a short code to its destination.
// OriginalURL, ShortCode, CreatedAt and IsCustom never change after insert.
type Mapping struct {
	ID             uuid.UUID  `json:"id"`
	OriginalURL    string     `json:"original_url"`
	ShortCode      string     `json:"short_code"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsCustom       bool       `json:"is_custom"`
	ClickCount     int64      `json:"click_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	IsActive       bool       `json:"is_active"`
}

// CreateRequest holds the parameters of CreateShortURL.
type CreateRequest struct {
	OriginalURL     string
	CustomCode      string // Optional: generated when empty
	ValidityMinutes *int   // Optional: DefaultValidityMinutes when nil
}

// Page is one slice of the active mappings, newest first.
type Page struct {
	Items      []Mapping `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
	TotalCount int64     `json:"total_count"`
}
