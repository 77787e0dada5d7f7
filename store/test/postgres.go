package test

import (
	"os"
	"testing"
)

// GetPostgresDSN returns a DSN for PostgreSQL testing.
// Tests needing PostgreSQL are skipped unless POSTGRES_TEST_DSN is set.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	return dsn
}
