package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "no header generates uuid", incoming: ""},
		{name: "printable id reused", incoming: "edge-7f3a:42", reuse: true},
		{name: "id at length limit reused", incoming: strings.Repeat("a", maxRequestIDLength), reuse: true},
		{name: "overlong id replaced", incoming: strings.Repeat("a", maxRequestIDLength+1)},
		{name: "id with space replaced", incoming: "two words"},
		{name: "id with newline replaced", incoming: "abc\ninjected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/search?q=go", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header %q does not match context id %q", got, seen)
			}
			if tt.reuse {
				if seen != tt.incoming {
					t.Errorf("request id = %q, want %q", seen, tt.incoming)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("request id %q is not a generated uuid: %v", seen, err)
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}
