package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"moonstone/internal/mdm"
	"moonstone/internal/store"
)

// CertAuth wraps a service with certificate pinning. Authenticate is
// the trust-on-first-use moment: the presented certificate's hash is
// bound to the enrollment. Every other operation requires a presented
// certificate whose hash is already bound; anything else is
// ErrUnauthorized.
type CertAuth struct {
	store  store.CertAuthStore
	next   CheckinAndCommand
	logger *logrus.Entry
}

// NewCertAuth wraps next with certificate pinning backed by s.
func NewCertAuth(s store.CertAuthStore, next CheckinAndCommand, logger *logrus.Entry) *CertAuth {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CertAuth{store: s, next: next, logger: logger}
}

var _ CheckinAndCommand = (*CertAuth)(nil)

func (a *CertAuth) validate(r *mdm.Request) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	if r.Certificate == nil {
		return fmt.Errorf("%w: no certificate presented", ErrUnauthorized)
	}
	ok, err := a.store.HasCertHash(r.Context(), id, mdm.CertHash(r.Certificate))
	if err != nil {
		return fmt.Errorf("checking cert auth: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: certificate not bound to enrollment %s", ErrUnauthorized, id.ID)
	}
	return nil
}

func (a *CertAuth) associate(r *mdm.Request) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	if r.Certificate == nil {
		return fmt.Errorf("%w: no certificate presented", ErrUnauthorized)
	}
	if err := a.store.AssociateCertHash(r.Context(), id, mdm.CertHash(r.Certificate)); err != nil {
		return fmt.Errorf("associating certificate: %w", err)
	}
	a.logger.WithField("enroll_id", id.ID).Debug("certificate associated")
	return nil
}

func (a *CertAuth) Authenticate(r *mdm.Request, msg *mdm.Authenticate) error {
	if err := a.associate(r); err != nil {
		return err
	}
	return a.next.Authenticate(r, msg)
}

func (a *CertAuth) TokenUpdate(r *mdm.Request, msg *mdm.TokenUpdate) error {
	if err := a.validate(r); err != nil {
		return err
	}
	return a.next.TokenUpdate(r, msg)
}

func (a *CertAuth) CheckOut(r *mdm.Request, msg *mdm.CheckOut) error {
	if err := a.validate(r); err != nil {
		return err
	}
	return a.next.CheckOut(r, msg)
}

func (a *CertAuth) UserAuthenticate(r *mdm.Request, msg *mdm.UserAuthenticate) ([]byte, error) {
	if err := a.validate(r); err != nil {
		return nil, err
	}
	return a.next.UserAuthenticate(r, msg)
}

func (a *CertAuth) SetBootstrapToken(r *mdm.Request, msg *mdm.SetBootstrapToken) error {
	if err := a.validate(r); err != nil {
		return err
	}
	return a.next.SetBootstrapToken(r, msg)
}

func (a *CertAuth) GetBootstrapToken(r *mdm.Request, msg *mdm.GetBootstrapToken) (*mdm.BootstrapToken, error) {
	if err := a.validate(r); err != nil {
		return nil, err
	}
	return a.next.GetBootstrapToken(r, msg)
}

func (a *CertAuth) DeclarativeManagement(r *mdm.Request, msg *mdm.DeclarativeManagement) ([]byte, error) {
	if err := a.validate(r); err != nil {
		return nil, err
	}
	return a.next.DeclarativeManagement(r, msg)
}

func (a *CertAuth) GetToken(r *mdm.Request, msg *mdm.GetToken) (*mdm.GetTokenResponse, error) {
	if err := a.validate(r); err != nil {
		return nil, err
	}
	return a.next.GetToken(r, msg)
}

func (a *CertAuth) CommandAndReportResults(r *mdm.Request, results *mdm.CommandResults) (*mdm.Command, error) {
	if err := a.validate(r); err != nil {
		return nil, err
	}
	return a.next.CommandAndReportResults(r, results)
}
