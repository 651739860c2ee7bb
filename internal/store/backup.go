package store

import (
	"fmt"
	"os"
)

// Snapshot writes a consistent copy of the database to dest, which must not
// exist yet.
func (s *Store) Snapshot(dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot %s: file exists", dest)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}
