// Package store persists per-enrollment MDM state in SQLite: lifecycle
// records, the command queue, bootstrap tokens, push credentials, and
// certificate bindings.
//
// The surface is split into narrow capability interfaces so the service
// layer can depend on exactly what it touches.
package store

import (
	"context"
	"time"

	"moonstone/internal/mdm"
)

// CheckinStore persists enrollment lifecycle state.
type CheckinStore interface {
	// StoreAuthenticate atomically drops the command queue and upserts
	// the enrollment in the disabled state.
	StoreAuthenticate(ctx context.Context, id *mdm.EnrollID, msg *mdm.Authenticate) error
	// StoreTokenUpdate records push credentials and enables the enrollment.
	StoreTokenUpdate(ctx context.Context, id *mdm.EnrollID, msg *mdm.TokenUpdate) error
	// StoreCheckOut disables the enrollment on unenrollment.
	StoreCheckOut(ctx context.Context, id *mdm.EnrollID, msg *mdm.CheckOut) error
	IsDisabled(ctx context.Context, id *mdm.EnrollID) (bool, error)
	Disable(ctx context.Context, id *mdm.EnrollID) error
}

// CommandStore is the per-enrollment command queue.
type CommandStore interface {
	// EnqueueCommand appends a command and returns its UUID.
	EnqueueCommand(ctx context.Context, id *mdm.EnrollID, rawCommand []byte) (string, error)
	// NextCommand pops the oldest pending command, marking it delivered
	// in the same transaction so no command is dispatched twice.
	NextCommand(ctx context.Context, id *mdm.EnrollID) (*mdm.QueuedCommand, error)
	// StoreResult transitions a delivered command to its reported status.
	// A NotNow report requeues the command for a later poll.
	StoreResult(ctx context.Context, id *mdm.EnrollID, results *mdm.CommandResults) error
	// ClearQueue drops every queued command for the enrollment.
	ClearQueue(ctx context.Context, id *mdm.EnrollID) error
	// PendingCount reports how many commands await delivery.
	PendingCount(ctx context.Context, id *mdm.EnrollID) (int, error)
}

// BootstrapTokenStore escrows the per-enrollment bootstrap token.
type BootstrapTokenStore interface {
	StoreBootstrapToken(ctx context.Context, id *mdm.EnrollID, token []byte) error
	RetrieveBootstrapToken(ctx context.Context, id *mdm.EnrollID) ([]byte, error)
	DeleteBootstrapToken(ctx context.Context, id *mdm.EnrollID) error
}

// PushStore resolves enrollments to push credentials. Only enabled
// enrollments with a token and magic are returned.
type PushStore interface {
	RetrievePushInfo(ctx context.Context, id *mdm.EnrollID) (*mdm.PushInfo, error)
	RetrievePushInfos(ctx context.Context, ids []string) ([]*mdm.PushInfo, error)
}

// PushCert is one stored APNs push certificate.
type PushCert struct {
	Topic     string
	CertPEM   string
	KeyPEM    string
	NotAfter  *time.Time
	UpdatedAt time.Time
}

// PushCertStore keeps APNs push certificates keyed by topic.
type PushCertStore interface {
	StorePushCert(ctx context.Context, topic, certPEM, keyPEM string, notAfter *time.Time) error
	RetrievePushCert(ctx context.Context, topic string) (*PushCert, error)
}

// CertAuthStore records which certificate hashes may speak for an
// enrollment.
type CertAuthStore interface {
	AssociateCertHash(ctx context.Context, id *mdm.EnrollID, hash []byte) error
	HasCertHash(ctx context.Context, id *mdm.EnrollID, hash []byte) (bool, error)
}

// AllStore is the full storage surface the server wires together.
type AllStore interface {
	CheckinStore
	CommandStore
	BootstrapTokenStore
	PushStore
	PushCertStore
	CertAuthStore
}
