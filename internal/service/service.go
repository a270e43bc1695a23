// Package service implements the MDM check-in and command state
// machines on top of the store, plus the decorator layers that compose
// them: certificate pinning and multi-service fan-out.
package service

import (
	"errors"

	"moonstone/internal/mdm"
)

// ErrUnauthorized is returned when a request's certificate is missing
// or not bound to the enrollment it speaks for.
var ErrUnauthorized = errors.New("unauthorized")

// Checkin handles the eight check-in message types. Operations without
// a reply return only an error; the transport serializes non-nil
// responses as plist.
type Checkin interface {
	Authenticate(r *mdm.Request, msg *mdm.Authenticate) error
	TokenUpdate(r *mdm.Request, msg *mdm.TokenUpdate) error
	CheckOut(r *mdm.Request, msg *mdm.CheckOut) error
	UserAuthenticate(r *mdm.Request, msg *mdm.UserAuthenticate) ([]byte, error)
	SetBootstrapToken(r *mdm.Request, msg *mdm.SetBootstrapToken) error
	GetBootstrapToken(r *mdm.Request, msg *mdm.GetBootstrapToken) (*mdm.BootstrapToken, error)
	DeclarativeManagement(r *mdm.Request, msg *mdm.DeclarativeManagement) ([]byte, error)
	GetToken(r *mdm.Request, msg *mdm.GetToken) (*mdm.GetTokenResponse, error)
}

// CommandAndReportResults stores a device's command report and hands
// back the next queued command, if any.
type CommandAndReportResults interface {
	CommandAndReportResults(r *mdm.Request, results *mdm.CommandResults) (*mdm.Command, error)
}

// CheckinAndCommand is the full device-facing service surface.
type CheckinAndCommand interface {
	Checkin
	CommandAndReportResults
}
