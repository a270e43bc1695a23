package mdm

import "encoding/hex"

// PushInfo is everything needed to wake one enrollment over APNs.
type PushInfo struct {
	EnrollmentID string
	Token        []byte
	PushMagic    string
	Topic        string
}

// TokenHex returns the push token in the hex form APNs expects.
func (p *PushInfo) TokenHex() string {
	return hex.EncodeToString(p.Token)
}

// PushResult is the outcome of one push attempt.
type PushResult struct {
	EnrollmentID string
	ApnsID       string
	Err          error
}
