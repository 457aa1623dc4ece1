package httpx

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

type shortenBody struct {
	URL             string `json:"url"`
	CustomCode      string `json:"custom_code"`
	ValidityMinutes *int   `json:"validity_minutes"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		errContains string
		check       func(*testing.T, shortenBody)
	}{
		{
			name: "all fields",
			body: `{"url":"https://example.com","custom_code":"promo","validity_minutes":90}`,
			check: func(t *testing.T, b shortenBody) {
				if b.URL != "https://example.com" {
					t.Errorf("url = %q", b.URL)
				}
				if b.CustomCode != "promo" {
					t.Errorf("custom_code = %q", b.CustomCode)
				}
				if b.ValidityMinutes == nil || *b.ValidityMinutes != 90 {
					t.Errorf("validity_minutes = %v, want 90", b.ValidityMinutes)
				}
			},
		},
		{
			name: "optional fields omitted",
			body: `{"url":"https://example.com"}`,
			check: func(t *testing.T, b shortenBody) {
				if b.ValidityMinutes != nil {
					t.Errorf("validity_minutes = %v, want nil", *b.ValidityMinutes)
				}
			},
		},
		{name: "empty body", body: "", errContains: "request body is empty"},
		{name: "syntax error", body: `{"url":"x",}`, errContains: "malformed JSON"},
		{name: "truncated", body: `{"url":"x"`, errContains: "malformed JSON"},
		{name: "unknown field", body: `{"url":"x","alias":"y"}`, errContains: "unknown field"},
		{name: "wrong type", body: `{"url":"x","validity_minutes":"soon"}`, errContains: "invalid value for field"},
		{name: "two objects", body: `{"url":"a"}{"url":"b"}`, errContains: "multiple JSON objects"},
		{
			name:        "oversized",
			body:        `{"url":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`,
			errContains: "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/urls", strings.NewReader(tt.body))

			got, err := DecodeJSON[shortenBody](req)

			if tt.errContains != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errContains)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errContains)
				}
				if got.URL != "" || got.ValidityMinutes != nil {
					t.Errorf("expected zero value on error, got %+v", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDecodeJSON_ClosesBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(`{"url":"https://example.com"}`)}
	req := httptest.NewRequest("POST", "/api/urls", nil)
	req.Body = body

	if _, err := DecodeJSON[shortenBody](req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !body.closed {
		t.Error("request body was not closed")
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		def     int
		want    int
		wantErr bool
	}{
		{name: "absent uses default", target: "/api/urls", def: 10, want: 10},
		{name: "empty uses default", target: "/api/urls?page=", def: 1, want: 1},
		{name: "parsed", target: "/api/urls?page=3", def: 1, want: 3},
		{name: "negative passes through", target: "/api/urls?page=-2", def: 1, want: -2},
		{name: "not a number", target: "/api/urls?page=two", def: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)

			got, err := QueryInt(req, "page", tt.def)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("QueryInt() = %d, want %d", got, tt.want)
			}
		})
	}
}
