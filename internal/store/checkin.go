package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moonstone/internal/mdm"
)

// StoreAuthenticate drops the command queue and upserts the enrollment
// as disabled, in a single transaction. An enrollment is only live
// again after the TokenUpdate that follows.
func (s *SQLite) StoreAuthenticate(ctx context.Context, id *mdm.EnrollID, msg *mdm.Authenticate) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM commands WHERE enrollment_id = ?`, id.ID); err != nil {
			return fmt.Errorf("clearing command queue: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO enrollments (id, enroll_type, parent_id, topic, push_magic, push_token,
			                         disabled, authenticate_raw, token_update_raw, created_at, updated_at)
			VALUES (?, ?, ?, ?, NULL, NULL, 1, ?, NULL, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				enroll_type = excluded.enroll_type,
				parent_id = excluded.parent_id,
				topic = excluded.topic,
				disabled = 1,
				authenticate_raw = excluded.authenticate_raw,
				updated_at = excluded.updated_at
		`, id.ID, string(id.Type), nullString(id.ParentID), msg.Topic, msg.Raw, now, now)
		if err != nil {
			return fmt.Errorf("upserting enrollment: %w", err)
		}
		return nil
	})
}

// StoreTokenUpdate writes the push credentials and enables the
// enrollment.
func (s *SQLite) StoreTokenUpdate(ctx context.Context, id *mdm.EnrollID, msg *mdm.TokenUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET topic = ?, push_magic = ?, push_token = ?, disabled = 0,
		    token_update_raw = ?, updated_at = ?
		WHERE id = ?
	`, msg.Topic, msg.PushMagic, msg.Token, msg.Raw, time.Now().UTC(), id.ID)
	if err != nil {
		return fmt.Errorf("storing token update: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("token update for unknown enrollment %s", id.ID)
	}
	return nil
}

// StoreCheckOut disables the enrollment.
func (s *SQLite) StoreCheckOut(ctx context.Context, id *mdm.EnrollID, _ *mdm.CheckOut) error {
	return s.Disable(ctx, id)
}

// IsDisabled reports whether the enrollment is disabled. Unknown
// enrollments count as disabled.
func (s *SQLite) IsDisabled(ctx context.Context, id *mdm.EnrollID) (bool, error) {
	var disabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT disabled FROM enrollments WHERE id = ?`, id.ID).Scan(&disabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading disabled flag: %w", err)
	}
	return disabled, nil
}

// Disable marks the enrollment disabled without touching its queue.
func (s *SQLite) Disable(ctx context.Context, id *mdm.EnrollID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrollments SET disabled = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id.ID)
	if err != nil {
		return fmt.Errorf("disabling enrollment: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
