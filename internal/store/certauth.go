package store

import (
	"context"
	"fmt"

	"moonstone/internal/mdm"
)

// AssociateCertHash binds a certificate hash to the enrollment.
// Re-associating the same hash is a no-op.
func (s *SQLite) AssociateCertHash(ctx context.Context, id *mdm.EnrollID, hash []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cert_auth (enrollment_id, cert_hash) VALUES (?, ?)
	`, id.ID, hash)
	if err != nil {
		return fmt.Errorf("associating cert hash: %w", err)
	}
	return nil
}

// HasCertHash reports whether the hash is bound to the enrollment.
func (s *SQLite) HasCertHash(ctx context.Context, id *mdm.EnrollID, hash []byte) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cert_auth WHERE enrollment_id = ? AND cert_hash = ?
	`, id.ID, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking cert hash: %w", err)
	}
	return count > 0, nil
}
