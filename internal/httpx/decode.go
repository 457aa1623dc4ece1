package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// MaxRequestBodySize caps JSON request bodies at 1MB.
const MaxRequestBodySize = 1 << 20

// DecodeJSON decodes a single JSON object from the request body into T.
// Unknown fields, trailing data and bodies over MaxRequestBodySize are rejected.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var zero T

	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	defer func() {
		_ = r.Body.Close()
	}()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var sizeErr *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxErr):
			return zero, fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return zero, fmt.Errorf("invalid value for field %q", typeErr.Field)
		case errors.As(err, &sizeErr):
			return zero, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
		case errors.Is(err, io.EOF):
			return zero, errors.New("request body is empty")
		case errors.Is(err, io.ErrUnexpectedEOF):
			return zero, errors.New("malformed JSON: unexpected end of input")
		default:
			return zero, fmt.Errorf("failed to decode JSON: %w", err)
		}
	}

	if dec.More() {
		return zero, errors.New("request body contains multiple JSON objects")
	}

	return v, nil
}

// QueryInt reads an integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", name)
	}
	return n, nil
}
