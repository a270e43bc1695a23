package mdm

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
)

// Request is the per-request context handed through the service layer:
// the resolved identity, the client certificate the transport captured,
// and any URL parameters.
type Request struct {
	EnrollID    *EnrollID
	Certificate *x509.Certificate
	Params      map[string]string

	ctx context.Context
}

// NewRequest builds a request carrying ctx.
func NewRequest(ctx context.Context) *Request {
	return &Request{ctx: ctx}
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// ID returns the canonical enrollment ID string, or "" when unresolved.
func (r *Request) ID() string {
	if r.EnrollID == nil {
		return ""
	}
	return r.EnrollID.ID
}

// Clone returns a shallow copy of the request. Params is copied so the
// clone can be handed to another goroutine.
func (r *Request) Clone() *Request {
	clone := *r
	if r.Params != nil {
		clone.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			clone.Params[k] = v
		}
	}
	return &clone
}

// SetContext replaces the request context.
func (r *Request) SetContext(ctx context.Context) {
	r.ctx = ctx
}

// RequireEnrollID returns the resolved EnrollID or ErrUnresolvedIdentity.
func (r *Request) RequireEnrollID() (*EnrollID, error) {
	if err := r.EnrollID.Validate(); err != nil {
		return nil, err
	}
	return r.EnrollID, nil
}

// CertHash is the SHA-256 digest of a certificate's DER bytes. It is
// the only form in which certificates are compared or persisted.
func CertHash(cert *x509.Certificate) []byte {
	sum := sha256.Sum256(cert.Raw)
	return sum[:]
}
