// Package mdm contains the core Apple MDM protocol types: enrollment
// identity, check-in messages, commands, and push info.
package mdm

import "errors"

// SharedIPadUserID is the static UserID Shared iPads send on the
// device channel.
const SharedIPadUserID = "FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF"

// ErrUnresolvedIdentity is returned when a check-in message carries no
// recognizable combination of enrollment identifiers.
var ErrUnresolvedIdentity = errors.New("unresolved enrollment identity")

// EnrollType is the flavour of an MDM enrollment.
type EnrollType string

const (
	// Device is a standard UDID-based device enrollment.
	Device EnrollType = "Device"
	// UserChannel is the per-user channel on a device enrollment.
	UserChannel EnrollType = "UserChannel"
	// UserEnrollmentDevice is the device channel of a User Enrollment.
	UserEnrollmentDevice EnrollType = "UserEnrollmentDevice"
	// UserEnrollment is the user channel of a User Enrollment.
	UserEnrollment EnrollType = "UserEnrollment"
	// SharedIPad is the user channel of a Shared iPad.
	SharedIPad EnrollType = "SharedIPad"
)

// Enrollment is the raw identity block devices send on every check-in
// and command-report message. Which fields are populated depends on the
// enrollment flavour.
type Enrollment struct {
	UDID             string `plist:"UDID,omitempty"`
	UserID           string `plist:"UserID,omitempty"`
	UserShortName    string `plist:"UserShortName,omitempty"`
	UserLongName     string `plist:"UserLongName,omitempty"`
	EnrollmentID     string `plist:"EnrollmentID,omitempty"`
	EnrollmentUserID string `plist:"EnrollmentUserID,omitempty"`
}

// EnrollID is the canonical identity every store and service operation
// is keyed by. User-channel IDs reference their device enrollment
// through ParentID but have an independent lifecycle.
type EnrollID struct {
	Type     EnrollType
	ID       string
	ParentID string
}

// Validate returns an error for an empty or unresolved ID.
func (id *EnrollID) Validate() error {
	if id == nil || id.ID == "" {
		return ErrUnresolvedIdentity
	}
	return nil
}

// Resolve maps the raw enrollment fields to a canonical EnrollID.
// Rules are evaluated top-down, first match wins:
//
//	EnrollmentID + EnrollmentUserID -> UserEnrollment       "EID:EUID"
//	EnrollmentID                    -> UserEnrollmentDevice "EID"
//	UDID + static UserID            -> SharedIPad           "UDID:UserID"
//	UDID + UserID                   -> UserChannel          "UDID:UserID"
//	UDID                            -> Device               "UDID"
func (e *Enrollment) Resolve() (*EnrollID, error) {
	switch {
	case e.EnrollmentID != "" && e.EnrollmentUserID != "":
		return &EnrollID{
			Type:     UserEnrollment,
			ID:       e.EnrollmentID + ":" + e.EnrollmentUserID,
			ParentID: e.EnrollmentID,
		}, nil
	case e.EnrollmentID != "":
		return &EnrollID{
			Type: UserEnrollmentDevice,
			ID:   e.EnrollmentID,
		}, nil
	case e.UDID != "" && e.UserID == SharedIPadUserID:
		return &EnrollID{
			Type:     SharedIPad,
			ID:       e.UDID + ":" + e.UserID,
			ParentID: e.UDID,
		}, nil
	case e.UDID != "" && e.UserID != "":
		return &EnrollID{
			Type:     UserChannel,
			ID:       e.UDID + ":" + e.UserID,
			ParentID: e.UDID,
		}, nil
	case e.UDID != "":
		return &EnrollID{
			Type: Device,
			ID:   e.UDID,
		}, nil
	}
	return nil, ErrUnresolvedIdentity
}
