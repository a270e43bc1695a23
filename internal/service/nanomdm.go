package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"moonstone/internal/mdm"
	"moonstone/internal/store"
)

// NanoMDM is the base service: it applies each message's lifecycle
// effect to the store and nothing else. Authorization and fan-out are
// the wrappers' business.
type NanoMDM struct {
	store  store.AllStore
	logger *logrus.Entry
}

// NewNanoMDM creates the base service over a store.
func NewNanoMDM(s store.AllStore, logger *logrus.Entry) *NanoMDM {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NanoMDM{store: s, logger: logger}
}

var _ CheckinAndCommand = (*NanoMDM)(nil)

// Authenticate starts (or restarts) an enrollment: the escrowed
// bootstrap token is deleted, the queue is dropped, and the enrollment
// stays disabled until its TokenUpdate arrives.
func (s *NanoMDM) Authenticate(r *mdm.Request, msg *mdm.Authenticate) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	log := s.logger.WithField("enroll_id", id.ID)
	if msg.SerialNumber != "" {
		log = log.WithField("serial_number", msg.SerialNumber)
	}
	log.Info("Authenticate")

	if err := s.store.DeleteBootstrapToken(r.Context(), id); err != nil {
		return fmt.Errorf("deleting bootstrap token: %w", err)
	}
	if err := s.store.StoreAuthenticate(r.Context(), id, msg); err != nil {
		return fmt.Errorf("storing authenticate: %w", err)
	}
	return nil
}

// TokenUpdate completes the enrollment and records push credentials.
func (s *NanoMDM) TokenUpdate(r *mdm.Request, msg *mdm.TokenUpdate) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	s.logger.WithField("enroll_id", id.ID).Info("TokenUpdate")

	if err := s.store.StoreTokenUpdate(r.Context(), id, msg); err != nil {
		return fmt.Errorf("storing token update: %w", err)
	}
	return nil
}

// CheckOut disables the enrollment.
func (s *NanoMDM) CheckOut(r *mdm.Request, msg *mdm.CheckOut) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	s.logger.WithField("enroll_id", id.ID).Info("CheckOut")

	if err := s.store.StoreCheckOut(r.Context(), id, msg); err != nil {
		return fmt.Errorf("storing checkout: %w", err)
	}
	return nil
}

// UserAuthenticate accepts without issuing a digest challenge.
func (s *NanoMDM) UserAuthenticate(r *mdm.Request, msg *mdm.UserAuthenticate) ([]byte, error) {
	id, err := r.RequireEnrollID()
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"enroll_id":       id.ID,
		"digest_response": msg.DigestResponse != "",
	}).Info("UserAuthenticate")
	return nil, nil
}

// SetBootstrapToken escrows the token.
func (s *NanoMDM) SetBootstrapToken(r *mdm.Request, msg *mdm.SetBootstrapToken) error {
	id, err := r.RequireEnrollID()
	if err != nil {
		return err
	}
	s.logger.WithField("enroll_id", id.ID).Info("SetBootstrapToken")

	if err := s.store.StoreBootstrapToken(r.Context(), id, msg.BootstrapToken); err != nil {
		return fmt.Errorf("storing bootstrap token: %w", err)
	}
	return nil
}

// GetBootstrapToken returns the escrowed token, or nil when none is
// stored (the transport sends an empty 200 for nil).
func (s *NanoMDM) GetBootstrapToken(r *mdm.Request, _ *mdm.GetBootstrapToken) (*mdm.BootstrapToken, error) {
	id, err := r.RequireEnrollID()
	if err != nil {
		return nil, err
	}
	s.logger.WithField("enroll_id", id.ID).Info("GetBootstrapToken")

	token, err := s.store.RetrieveBootstrapToken(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("retrieving bootstrap token: %w", err)
	}
	if token == nil {
		return nil, nil
	}
	return &mdm.BootstrapToken{BootstrapToken: token}, nil
}

// DeclarativeManagement is a dispatch point only; no DDM business logic
// lives here.
func (s *NanoMDM) DeclarativeManagement(r *mdm.Request, msg *mdm.DeclarativeManagement) ([]byte, error) {
	id, err := r.RequireEnrollID()
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"enroll_id": id.ID,
		"endpoint":  msg.Endpoint,
	}).Info("DeclarativeManagement")
	return nil, nil
}

// GetToken has no token service attached.
func (s *NanoMDM) GetToken(r *mdm.Request, msg *mdm.GetToken) (*mdm.GetTokenResponse, error) {
	id, err := r.RequireEnrollID()
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"enroll_id":          id.ID,
		"token_service_type": msg.TokenServiceType,
	}).Info("GetToken")
	return nil, nil
}

// CommandAndReportResults stores the report (unless it is an Idle poll)
// and hands back the next queued command. A NotNow report requeues its
// command but does not receive a replacement in the same exchange.
func (s *NanoMDM) CommandAndReportResults(r *mdm.Request, results *mdm.CommandResults) (*mdm.Command, error) {
	id, err := r.RequireEnrollID()
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"enroll_id": id.ID,
		"status":    results.Status,
	})
	if results.CommandUUID != "" {
		log = log.WithField("command_uuid", results.CommandUUID)
	}
	log.Info("command report")

	if results.CommandUUID != "" && results.Status != mdm.StatusIdle {
		if err := s.store.StoreResult(r.Context(), id, results); err != nil {
			return nil, fmt.Errorf("storing command report: %w", err)
		}
	}
	if results.Status == mdm.StatusNotNow {
		return nil, nil
	}

	queued, err := s.store.NextCommand(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("retrieving next command: %w", err)
	}
	if queued == nil {
		return nil, nil
	}

	cmd, err := mdm.DecodeCommand(queued.Raw)
	if err != nil {
		return nil, fmt.Errorf("parsing stored command: %w", err)
	}
	log.WithFields(logrus.Fields{
		"command_uuid": cmd.CommandUUID,
		"request_type": cmd.Command.RequestType,
	}).Debug("command retrieved")
	return cmd, nil
}
