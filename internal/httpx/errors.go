package httpx

import (
	"net/http"

	"github.com/sundayezeilo/shorturl/internal/errx"
)

type kindResponse struct {
	status int
	code   string
}

var kindResponses = map[errx.Kind]kindResponse{
	errx.NotFound:    {http.StatusNotFound, "not_found"},
	errx.Conflict:    {http.StatusConflict, "conflict"},
	errx.Invalid:     {http.StatusBadRequest, "invalid_input"},
	errx.Expired:     {http.StatusGone, "expired"},
	errx.Unavailable: {http.StatusServiceUnavailable, "unavailable"},
}

var internalResponse = kindResponse{http.StatusInternalServerError, "internal_error"}

func responseFor(kind errx.Kind) kindResponse {
	if r, ok := kindResponses[kind]; ok {
		return r
	}
	return internalResponse
}

// ErrorKindToStatus maps errx.Kind to HTTP status codes. Unmapped kinds are 500.
func ErrorKindToStatus(kind errx.Kind) int {
	return responseFor(kind).status
}

// ErrorKindToCode maps errx.Kind to the machine-readable code in error bodies.
func ErrorKindToCode(kind errx.Kind) string {
	return responseFor(kind).code
}
