package mdm

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		enrollment Enrollment
		wantType   EnrollType
		wantID     string
		wantParent string
	}{
		{
			name:       "device",
			enrollment: Enrollment{UDID: "00008030-001234567890ABCD"},
			wantType:   Device,
			wantID:     "00008030-001234567890ABCD",
		},
		{
			name:       "user channel",
			enrollment: Enrollment{UDID: "00008030-001234567890ABCD", UserID: "F55C77F0-BC3D-401C-8E7E-8C30B415A3C3"},
			wantType:   UserChannel,
			wantID:     "00008030-001234567890ABCD:F55C77F0-BC3D-401C-8E7E-8C30B415A3C3",
			wantParent: "00008030-001234567890ABCD",
		},
		{
			name:       "shared ipad",
			enrollment: Enrollment{UDID: "00008030-001234567890ABCD", UserID: SharedIPadUserID},
			wantType:   SharedIPad,
			wantID:     "00008030-001234567890ABCD:" + SharedIPadUserID,
			wantParent: "00008030-001234567890ABCD",
		},
		{
			name:       "user enrollment device",
			enrollment: Enrollment{EnrollmentID: "ENROLL-1"},
			wantType:   UserEnrollmentDevice,
			wantID:     "ENROLL-1",
		},
		{
			name:       "user enrollment",
			enrollment: Enrollment{EnrollmentID: "ENROLL-1", EnrollmentUserID: "EUSER-1"},
			wantType:   UserEnrollment,
			wantID:     "ENROLL-1:EUSER-1",
			wantParent: "ENROLL-1",
		},
		{
			// EnrollmentID outranks UDID when both are present.
			name:       "enrollment id wins over udid",
			enrollment: Enrollment{UDID: "00008030-001234567890ABCD", EnrollmentID: "ENROLL-1"},
			wantType:   UserEnrollmentDevice,
			wantID:     "ENROLL-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.enrollment.Resolve()
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if id.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", id.Type, tt.wantType)
			}
			if id.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", id.ID, tt.wantID)
			}
			if id.ParentID != tt.wantParent {
				t.Errorf("ParentID = %q, want %q", id.ParentID, tt.wantParent)
			}
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	_, err := (&Enrollment{}).Resolve()
	if !errors.Is(err, ErrUnresolvedIdentity) {
		t.Errorf("expected ErrUnresolvedIdentity, got %v", err)
	}

	// A bare UserID without UDID matches no rule.
	_, err = (&Enrollment{UserID: "F55C77F0-BC3D-401C-8E7E-8C30B415A3C3"}).Resolve()
	if !errors.Is(err, ErrUnresolvedIdentity) {
		t.Errorf("expected ErrUnresolvedIdentity, got %v", err)
	}
}

func TestEnrollIDValidate(t *testing.T) {
	var id *EnrollID
	if err := id.Validate(); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Errorf("nil id: expected ErrUnresolvedIdentity, got %v", err)
	}
	if err := (&EnrollID{}).Validate(); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Errorf("empty id: expected ErrUnresolvedIdentity, got %v", err)
	}
	if err := (&EnrollID{Type: Device, ID: "X"}).Validate(); err != nil {
		t.Errorf("valid id: unexpected error %v", err)
	}
}
