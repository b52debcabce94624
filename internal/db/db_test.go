package db

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOpen_RequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("Open() error = %v, want ErrMissingURL", err)
	}
}

func TestSchema_DefinesTables(t *testing.T) {
	for _, want := range []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE TABLE IF NOT EXISTS urls",
		"CREATE TABLE IF NOT EXISTS url_content",
		"CREATE TABLE IF NOT EXISTS search_history",
		"embedding     vector(256)",
	} {
		if !strings.Contains(Schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
