package mdm

import (
	"bytes"
	"testing"
)

const authenticatePlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>MessageType</key>
	<string>Authenticate</string>
	<key>UDID</key>
	<string>00008030-001234567890ABCD</string>
	<key>Topic</key>
	<string>com.apple.mgmt.External.abc123</string>
	<key>SerialNumber</key>
	<string>C02ABCDEF</string>
	<key>OSVersion</key>
	<string>14.5</string>
</dict>
</plist>`

const tokenUpdatePlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>MessageType</key>
	<string>TokenUpdate</string>
	<key>UDID</key>
	<string>00008030-001234567890ABCD</string>
	<key>Topic</key>
	<string>com.apple.mgmt.External.abc123</string>
	<key>Token</key>
	<data>dG9rZW4tYnl0ZXM=</data>
	<key>PushMagic</key>
	<string>E5A2B3C4-MAGIC</string>
</dict>
</plist>`

func TestParseCheckinAuthenticate(t *testing.T) {
	msg, err := ParseCheckin([]byte(authenticatePlist))
	if err != nil {
		t.Fatalf("ParseCheckin: %v", err)
	}
	auth, ok := msg.(*Authenticate)
	if !ok {
		t.Fatalf("expected *Authenticate, got %T", msg)
	}
	if auth.UDID != "00008030-001234567890ABCD" {
		t.Errorf("UDID = %q", auth.UDID)
	}
	if auth.Topic != "com.apple.mgmt.External.abc123" {
		t.Errorf("Topic = %q", auth.Topic)
	}
	if auth.SerialNumber != "C02ABCDEF" {
		t.Errorf("SerialNumber = %q", auth.SerialNumber)
	}
	if !bytes.Equal(auth.Raw, []byte(authenticatePlist)) {
		t.Error("Raw does not hold the original plist")
	}
}

func TestParseCheckinTokenUpdate(t *testing.T) {
	msg, err := ParseCheckin([]byte(tokenUpdatePlist))
	if err != nil {
		t.Fatalf("ParseCheckin: %v", err)
	}
	tu, ok := msg.(*TokenUpdate)
	if !ok {
		t.Fatalf("expected *TokenUpdate, got %T", msg)
	}
	if tu.PushMagic != "E5A2B3C4-MAGIC" {
		t.Errorf("PushMagic = %q", tu.PushMagic)
	}
	if string(tu.Token) != "token-bytes" {
		t.Errorf("Token = %q", tu.Token)
	}
}

func TestParseCheckinUnknownType(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>MessageType</key><string>Bogus</string></dict></plist>`)
	if _, err := ParseCheckin(raw); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestNewCommandRoundTrip(t *testing.T) {
	cmd, err := NewCommand("DeviceInformation", map[string]interface{}{
		"Queries": []string{"UDID", "DeviceName"},
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if cmd.CommandUUID == "" {
		t.Error("CommandUUID is empty")
	}
	if cmd.Command.RequestType != "DeviceInformation" {
		t.Errorf("RequestType = %q", cmd.Command.RequestType)
	}

	reparsed, err := DecodeCommand(cmd.Raw)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if reparsed.CommandUUID != cmd.CommandUUID {
		t.Errorf("round-trip UUID mismatch: %q vs %q", reparsed.CommandUUID, cmd.CommandUUID)
	}
}

func TestDecodeCommandRejectsIncomplete(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>CommandUUID</key><string>u-1</string></dict></plist>`)
	if _, err := DecodeCommand(raw); err == nil {
		t.Fatal("expected error for command without RequestType")
	}
}

func TestParseCommandResultsIdle(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>UDID</key><string>00008030-001234567890ABCD</string>
	<key>Status</key><string>Idle</string>
</dict></plist>`)
	results, err := ParseCommandResults(raw)
	if err != nil {
		t.Fatalf("ParseCommandResults: %v", err)
	}
	if results.Status != StatusIdle {
		t.Errorf("Status = %q", results.Status)
	}
	if results.CommandUUID != "" {
		t.Errorf("CommandUUID = %q, want empty", results.CommandUUID)
	}
}
