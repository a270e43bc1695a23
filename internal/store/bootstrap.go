package store

import (
	"context"
	"database/sql"
	"fmt"

	"moonstone/internal/mdm"
)

// StoreBootstrapToken escrows the token, replacing any previous one.
func (s *SQLite) StoreBootstrapToken(ctx context.Context, id *mdm.EnrollID, token []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bootstrap_tokens (enrollment_id, token) VALUES (?, ?)
		ON CONFLICT (enrollment_id) DO UPDATE SET token = excluded.token
	`, id.ID, token)
	if err != nil {
		return fmt.Errorf("storing bootstrap token: %w", err)
	}
	return nil
}

// RetrieveBootstrapToken returns the escrowed token, or nil when none
// is stored.
func (s *SQLite) RetrieveBootstrapToken(ctx context.Context, id *mdm.EnrollID) ([]byte, error) {
	var token []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM bootstrap_tokens WHERE enrollment_id = ?`, id.ID).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving bootstrap token: %w", err)
	}
	return token, nil
}

// DeleteBootstrapToken removes the escrowed token if present.
func (s *SQLite) DeleteBootstrapToken(ctx context.Context, id *mdm.EnrollID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bootstrap_tokens WHERE enrollment_id = ?`, id.ID)
	if err != nil {
		return fmt.Errorf("deleting bootstrap token: %w", err)
	}
	return nil
}
