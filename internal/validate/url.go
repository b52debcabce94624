package validate

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// EndpointURLConstraints accepts http and https service endpoints, such as an
// embedding API base URL or an OTLP collector.
var EndpointURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	MaxLength:      2048,
}

// URL validates a URL against the given constraints.
// Returns the trimmed URL string and an error if validation fails.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}

	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 && !slices.Contains(constraints.AllowedSchemes, parsedURL.Scheme) {
		return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsedURL.Scheme, constraints.AllowedSchemes)
	}

	if parsedURL.Hostname() == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	return urlStr, nil
}

// EndpointURL validates a service endpoint URL.
func EndpointURL(urlStr string) (string, error) {
	return URL(urlStr, EndpointURLConstraints)
}
