package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"moonstone/internal/mdm"
)

// MultiService fans check-in messages and command reports out to
// several services. The first service is authoritative: its return
// values (and errors) are the caller's. The rest run asynchronously
// with a detached context; their errors are logged and dropped.
// Operations that produce a response body never fan out, since only
// one response can be sent.
type MultiService struct {
	services []CheckinAndCommand
	logger   *logrus.Entry
}

// NewMultiService composes services; at least one is required.
func NewMultiService(logger *logrus.Entry, services ...CheckinAndCommand) *MultiService {
	if len(services) == 0 {
		panic("multi-service requires at least one service")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MultiService{services: services, logger: logger}
}

var _ CheckinAndCommand = (*MultiService)(nil)

// detach clones the request with a fresh context so secondary services
// outlive the HTTP exchange that triggered them.
func detach(r *mdm.Request) *mdm.Request {
	clone := r.Clone()
	clone.SetContext(context.Background())
	return clone
}

func (m *MultiService) fanOut(r *mdm.Request, op string, fn func(svc CheckinAndCommand, r *mdm.Request) error) {
	for _, svc := range m.services[1:] {
		go func(svc CheckinAndCommand, r *mdm.Request) {
			if err := fn(svc, r); err != nil {
				m.logger.WithField("operation", op).WithError(err).Warn("secondary service")
			}
		}(svc, detach(r))
	}
}

func (m *MultiService) Authenticate(r *mdm.Request, msg *mdm.Authenticate) error {
	err := m.services[0].Authenticate(r, msg)
	if err != nil {
		return err
	}
	m.fanOut(r, "Authenticate", func(svc CheckinAndCommand, r *mdm.Request) error {
		return svc.Authenticate(r, msg)
	})
	return nil
}

func (m *MultiService) TokenUpdate(r *mdm.Request, msg *mdm.TokenUpdate) error {
	err := m.services[0].TokenUpdate(r, msg)
	if err != nil {
		return err
	}
	m.fanOut(r, "TokenUpdate", func(svc CheckinAndCommand, r *mdm.Request) error {
		return svc.TokenUpdate(r, msg)
	})
	return nil
}

func (m *MultiService) CheckOut(r *mdm.Request, msg *mdm.CheckOut) error {
	err := m.services[0].CheckOut(r, msg)
	if err != nil {
		return err
	}
	m.fanOut(r, "CheckOut", func(svc CheckinAndCommand, r *mdm.Request) error {
		return svc.CheckOut(r, msg)
	})
	return nil
}

func (m *MultiService) UserAuthenticate(r *mdm.Request, msg *mdm.UserAuthenticate) ([]byte, error) {
	resp, err := m.services[0].UserAuthenticate(r, msg)
	if err != nil {
		return nil, err
	}
	m.fanOut(r, "UserAuthenticate", func(svc CheckinAndCommand, r *mdm.Request) error {
		_, err := svc.UserAuthenticate(r, msg)
		return err
	})
	return resp, nil
}

func (m *MultiService) SetBootstrapToken(r *mdm.Request, msg *mdm.SetBootstrapToken) error {
	err := m.services[0].SetBootstrapToken(r, msg)
	if err != nil {
		return err
	}
	m.fanOut(r, "SetBootstrapToken", func(svc CheckinAndCommand, r *mdm.Request) error {
		return svc.SetBootstrapToken(r, msg)
	})
	return nil
}

// GetBootstrapToken is a pure read; only the primary answers.
func (m *MultiService) GetBootstrapToken(r *mdm.Request, msg *mdm.GetBootstrapToken) (*mdm.BootstrapToken, error) {
	return m.services[0].GetBootstrapToken(r, msg)
}

// DeclarativeManagement returns a single response body; only the
// primary answers.
func (m *MultiService) DeclarativeManagement(r *mdm.Request, msg *mdm.DeclarativeManagement) ([]byte, error) {
	return m.services[0].DeclarativeManagement(r, msg)
}

// GetToken returns a single response body; only the primary answers.
func (m *MultiService) GetToken(r *mdm.Request, msg *mdm.GetToken) (*mdm.GetTokenResponse, error) {
	return m.services[0].GetToken(r, msg)
}

func (m *MultiService) CommandAndReportResults(r *mdm.Request, results *mdm.CommandResults) (*mdm.Command, error) {
	cmd, err := m.services[0].CommandAndReportResults(r, results)
	if err != nil {
		return nil, err
	}
	m.fanOut(r, "CommandAndReportResults", func(svc CheckinAndCommand, r *mdm.Request) error {
		_, err := svc.CommandAndReportResults(r, results)
		return err
	})
	return cmd, nil
}
