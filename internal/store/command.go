package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moonstone/internal/mdm"
)

// Internal queue states. "Pending" rows await delivery; "Sent" marks a
// row as handed to the device until its result report arrives.
const (
	statusPending = "Pending"
	statusSent    = "Sent"
)

// EnqueueCommand appends the raw command plist to the enrollment's
// queue and returns its UUID.
func (s *SQLite) EnqueueCommand(ctx context.Context, id *mdm.EnrollID, rawCommand []byte) (string, error) {
	cmd, err := mdm.DecodeCommand(rawCommand)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (enrollment_id, uuid, command, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.ID, cmd.CommandUUID, rawCommand, statusPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueueing command: %w", err)
	}
	return cmd.CommandUUID, nil
}

// NextCommand pops the oldest pending command. Selection and the flip
// to Sent happen in one transaction: two concurrent polls from the same
// enrollment can never both receive the same row.
func (s *SQLite) NextCommand(ctx context.Context, id *mdm.EnrollID) (*mdm.QueuedCommand, error) {
	var queued *mdm.QueuedCommand
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			rowID     int64
			uuid      string
			raw       []byte
			createdAt time.Time
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, uuid, command, created_at
			FROM commands
			WHERE enrollment_id = ? AND status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		`, id.ID, statusPending).Scan(&rowID, &uuid, &raw, &createdAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting next command: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE commands SET status = ? WHERE id = ? AND status = ?
		`, statusSent, rowID, statusPending)
		if err != nil {
			return fmt.Errorf("marking command delivered: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// Lost the race to a parallel poll; deliver nothing.
			return nil
		}

		queued = &mdm.QueuedCommand{UUID: uuid, Raw: raw, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queued, nil
}

// StoreResult records the device's report for a delivered command. A
// NotNow report requeues the command so a later poll can retry it.
func (s *SQLite) StoreResult(ctx context.Context, id *mdm.EnrollID, results *mdm.CommandResults) error {
	status := results.Status
	var result interface{} = results.Raw
	if status == mdm.StatusNotNow {
		status = statusPending
		result = nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, result = ?
		WHERE enrollment_id = ? AND uuid = ?
	`, status, result, id.ID, results.CommandUUID)
	if err != nil {
		return fmt.Errorf("storing command result: %w", err)
	}
	return nil
}

// ClearQueue drops all queued commands for the enrollment.
func (s *SQLite) ClearQueue(ctx context.Context, id *mdm.EnrollID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM commands WHERE enrollment_id = ?`, id.ID)
	if err != nil {
		return fmt.Errorf("clearing command queue: %w", err)
	}
	return nil
}

// PendingCount reports how many commands await delivery.
func (s *SQLite) PendingCount(ctx context.Context, id *mdm.EnrollID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM commands WHERE enrollment_id = ? AND status = ?
	`, id.ID, statusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending commands: %w", err)
	}
	return count, nil
}

// CommandStatus returns the stored status of one command, for tests and
// the operator API.
func (s *SQLite) CommandStatus(ctx context.Context, id *mdm.EnrollID, uuid string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM commands WHERE enrollment_id = ? AND uuid = ?
	`, id.ID, uuid).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("reading command status: %w", err)
	}
	return status, nil
}
