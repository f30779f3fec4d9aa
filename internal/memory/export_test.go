package memory

import (
	"database/sql"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetNow replaces the store clock.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}
