package shortener

import "errors"

// Sentinel reasons. They travel wrapped in an errx.Error, so match them with
// errors.Is and use errx.KindOf for the coarse class.
var (
	ErrInvalidURL          = errors.New("invalid url")
	ErrInvalidShortCode    = errors.New("invalid short code")
	ErrInvalidValidity     = errors.New("invalid validity")
	ErrShortCodeTaken      = errors.New("short code already taken")
	ErrAllocationExhausted = errors.New("could not allocate a unique short code")
	ErrNotFound            = errors.New("short code not found")
	ErrExpired             = errors.New("short link expired or inactive")
	ErrTransient           = errors.New("store temporarily unavailable")

	// ErrDuplicateShortCode is raised by a Repository when an insert loses a
	// uniqueness race. The service converts it to ErrShortCodeTaken or retries.
	ErrDuplicateShortCode = errors.New("duplicate short code")
)
