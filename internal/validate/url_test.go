package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "https", input: "https://api.openai.com/v1", want: "https://api.openai.com/v1"},
		{name: "http with port", input: " http://localhost:11434/v1 ", want: "http://localhost:11434/v1"},
		{name: "empty", input: "", wantErr: ErrEmpty},
		{name: "ftp scheme", input: "ftp://example.com", wantErr: ErrDisallowedScheme},
		{name: "no host", input: "https://", wantErr: ErrInvalidURL},
		{name: "too long", input: "https://example.com/" + strings.Repeat("a", 2048), wantErr: ErrStringTooLong},
		{name: "unparseable", input: "http://[::1", wantErr: ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointURL(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("EndpointURL() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EndpointURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
