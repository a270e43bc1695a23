package mdm

import (
	"fmt"

	"howett.net/plist"
)

// Check-in message types devices send to the check-in endpoint.
const (
	MessageTypeAuthenticate          = "Authenticate"
	MessageTypeTokenUpdate           = "TokenUpdate"
	MessageTypeCheckOut              = "CheckOut"
	MessageTypeUserAuthenticate      = "UserAuthenticate"
	MessageTypeSetBootstrapToken     = "SetBootstrapToken"
	MessageTypeGetBootstrapToken     = "GetBootstrapToken"
	MessageTypeDeclarativeManagement = "DeclarativeManagement"
	MessageTypeGetToken              = "GetToken"
)

// Authenticate is the first message of an enrollment. The enrollment is
// disabled until the TokenUpdate that follows it.
type Authenticate struct {
	Enrollment
	Topic        string `plist:"Topic"`
	BuildVersion string `plist:"BuildVersion,omitempty"`
	OSVersion    string `plist:"OSVersion,omitempty"`
	ProductName  string `plist:"ProductName,omitempty"`
	SerialNumber string `plist:"SerialNumber,omitempty"`
	DeviceName   string `plist:"DeviceName,omitempty"`
	Model        string `plist:"Model,omitempty"`
	ModelName    string `plist:"ModelName,omitempty"`

	Raw []byte `plist:"-"`
}

// TokenUpdate registers (or refreshes) the push credentials of an
// enrollment and completes it.
type TokenUpdate struct {
	Enrollment
	Topic                 string `plist:"Topic"`
	Token                 []byte `plist:"Token"`
	PushMagic             string `plist:"PushMagic"`
	UnlockToken           []byte `plist:"UnlockToken,omitempty"`
	AwaitingConfiguration bool   `plist:"AwaitingConfiguration,omitempty"`

	Raw []byte `plist:"-"`
}

// CheckOut is sent on unenrollment.
type CheckOut struct {
	Enrollment
	Topic string `plist:"Topic"`

	Raw []byte `plist:"-"`
}

// UserAuthenticate is the user-channel authentication challenge.
type UserAuthenticate struct {
	Enrollment
	DigestResponse string `plist:"DigestResponse,omitempty"`

	Raw []byte `plist:"-"`
}

// SetBootstrapToken stores the device's bootstrap token escrow blob.
type SetBootstrapToken struct {
	Enrollment
	BootstrapToken []byte `plist:"BootstrapToken"`

	Raw []byte `plist:"-"`
}

// GetBootstrapToken requests the escrowed bootstrap token back.
type GetBootstrapToken struct {
	Enrollment

	Raw []byte `plist:"-"`
}

// BootstrapToken is the response to a GetBootstrapToken message.
type BootstrapToken struct {
	BootstrapToken []byte `plist:"BootstrapToken"`
}

// DeclarativeManagement tunnels a DDM message over the check-in channel.
type DeclarativeManagement struct {
	Enrollment
	Endpoint string `plist:"Endpoint,omitempty"`
	Data     []byte `plist:"Data,omitempty"`

	Raw []byte `plist:"-"`
}

// GetToken requests a token for an Apple token service.
type GetToken struct {
	Enrollment
	TokenServiceType string `plist:"TokenServiceType"`

	Raw []byte `plist:"-"`
}

// GetTokenResponse is the response to a GetToken message.
type GetTokenResponse struct {
	TokenData []byte `plist:"TokenData"`
}

// ParseCheckin decodes a check-in plist into its typed message. The
// returned value is one of the pointer types above with Raw populated.
func ParseCheckin(raw []byte) (interface{}, error) {
	var discriminator struct {
		MessageType string `plist:"MessageType"`
	}
	if _, err := plist.Unmarshal(raw, &discriminator); err != nil {
		return nil, fmt.Errorf("decoding check-in message type: %w", err)
	}

	var msg interface{}
	switch discriminator.MessageType {
	case MessageTypeAuthenticate:
		m := &Authenticate{Raw: raw}
		msg = m
	case MessageTypeTokenUpdate:
		m := &TokenUpdate{Raw: raw}
		msg = m
	case MessageTypeCheckOut:
		m := &CheckOut{Raw: raw}
		msg = m
	case MessageTypeUserAuthenticate:
		m := &UserAuthenticate{Raw: raw}
		msg = m
	case MessageTypeSetBootstrapToken:
		m := &SetBootstrapToken{Raw: raw}
		msg = m
	case MessageTypeGetBootstrapToken:
		m := &GetBootstrapToken{Raw: raw}
		msg = m
	case MessageTypeDeclarativeManagement:
		m := &DeclarativeManagement{Raw: raw}
		msg = m
	case MessageTypeGetToken:
		m := &GetToken{Raw: raw}
		msg = m
	default:
		return nil, fmt.Errorf("unknown check-in message type %q", discriminator.MessageType)
	}

	if _, err := plist.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decoding %s message: %w", discriminator.MessageType, err)
	}
	return msg, nil
}
