package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"moonstone/internal/mdm"
)

// RetrievePushInfo returns push credentials for one enrollment, or nil
// when the enrollment is disabled or has not completed a TokenUpdate.
func (s *SQLite) RetrievePushInfo(ctx context.Context, id *mdm.EnrollID) (*mdm.PushInfo, error) {
	infos, err := s.RetrievePushInfos(ctx, []string{id.ID})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return infos[0], nil
}

// RetrievePushInfos resolves a batch of enrollment IDs in one query.
// Disabled enrollments and enrollments without credentials are simply
// absent from the result.
func (s *SQLite) RetrievePushInfos(ctx context.Context, ids []string) ([]*mdm.PushInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, push_token, push_magic, topic
		FROM enrollments
		WHERE id IN (%s) AND disabled = 0
		  AND push_token IS NOT NULL AND push_magic IS NOT NULL
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying push infos: %w", err)
	}
	defer rows.Close()

	var infos []*mdm.PushInfo
	for rows.Next() {
		info := &mdm.PushInfo{}
		if err := rows.Scan(&info.EnrollmentID, &info.Token, &info.PushMagic, &info.Topic); err != nil {
			return nil, fmt.Errorf("scanning push info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// RetrievePushCert returns the stored push certificate for a topic, or
// nil when the topic is unknown.
func (s *SQLite) RetrievePushCert(ctx context.Context, topic string) (*PushCert, error) {
	cert := &PushCert{}
	var notAfter sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT topic, cert_pem, key_pem, not_after, updated_at
		FROM push_certs WHERE topic = ?
	`, topic).Scan(&cert.Topic, &cert.CertPEM, &cert.KeyPEM, &notAfter, &cert.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving push cert: %w", err)
	}
	if notAfter.Valid {
		cert.NotAfter = &notAfter.Time
	}
	return cert, nil
}

// StorePushCert upserts the push certificate for its topic.
func (s *SQLite) StorePushCert(ctx context.Context, topic, certPEM, keyPEM string, notAfter *time.Time) error {
	var expiry interface{}
	if notAfter != nil {
		expiry = notAfter.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_certs (topic, cert_pem, key_pem, not_after, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (topic) DO UPDATE SET
			cert_pem = excluded.cert_pem,
			key_pem = excluded.key_pem,
			not_after = excluded.not_after,
			updated_at = excluded.updated_at
	`, topic, certPEM, keyPEM, expiry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing push cert: %w", err)
	}
	return nil
}
