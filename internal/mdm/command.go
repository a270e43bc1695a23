package mdm

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"howett.net/plist"
)

// Command statuses devices report back on the command endpoint.
const (
	StatusAcknowledged       = "Acknowledged"
	StatusError              = "Error"
	StatusCommandFormatError = "CommandFormatError"
	StatusNotNow             = "NotNow"
	StatusIdle               = "Idle"
)

// Command is an MDM command ready for delivery. Raw holds the exact
// plist that was enqueued; devices receive it byte for byte.
type Command struct {
	CommandUUID string
	Command     struct {
		RequestType string
	}
	Raw []byte `plist:"-"`
}

// DecodeCommand parses a command plist, keeping the raw bytes for
// verbatim delivery.
func DecodeCommand(raw []byte) (*Command, error) {
	cmd := &Command{Raw: raw}
	if _, err := plist.Unmarshal(raw, cmd); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	if cmd.CommandUUID == "" {
		return nil, fmt.Errorf("command has no CommandUUID")
	}
	if cmd.Command.RequestType == "" {
		return nil, fmt.Errorf("command has no RequestType")
	}
	return cmd, nil
}

// NewCommand assembles a command plist from a request type and optional
// extra payload keys, generating a fresh UUID.
func NewCommand(requestType string, payload map[string]interface{}) (*Command, error) {
	inner := map[string]interface{}{"RequestType": requestType}
	for k, v := range payload {
		inner[k] = v
	}
	envelope := map[string]interface{}{
		"CommandUUID": uuid.NewString(),
		"Command":     inner,
	}

	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(envelope); err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	return DecodeCommand(buf.Bytes())
}

// ErrorChainItem is one entry of the error chain a device reports for a
// failed command.
type ErrorChainItem struct {
	ErrorCode            int    `plist:"ErrorCode,omitempty"`
	ErrorDomain          string `plist:"ErrorDomain,omitempty"`
	LocalizedDescription string `plist:"LocalizedDescription,omitempty"`
	USEnglishDescription string `plist:"USEnglishDescription,omitempty"`
}

// CommandResults is the report a device POSTs to the command endpoint.
// Status Idle with an empty CommandUUID means "nothing to report, got
// anything for me?".
type CommandResults struct {
	Enrollment
	CommandUUID string           `plist:"CommandUUID,omitempty"`
	Status      string           `plist:"Status"`
	ErrorChain  []ErrorChainItem `plist:"ErrorChain,omitempty"`

	Raw []byte `plist:"-"`
}

// ParseCommandResults decodes a command-report plist.
func ParseCommandResults(raw []byte) (*CommandResults, error) {
	results := &CommandResults{Raw: raw}
	if _, err := plist.Unmarshal(raw, results); err != nil {
		return nil, fmt.Errorf("decoding command results: %w", err)
	}
	if results.Status == "" {
		return nil, fmt.Errorf("command results have no Status")
	}
	return results, nil
}

// QueuedCommand is a pending command row handed back by the store.
type QueuedCommand struct {
	UUID      string
	Raw       []byte
	CreatedAt time.Time
}
