package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"moonstone/internal/mdm"
	"moonstone/internal/push"
	"moonstone/internal/service"
	"moonstone/internal/store"
)

type nullPusher struct{}

func (nullPusher) Push(_ context.Context, infos []*mdm.PushInfo) ([]mdm.PushResult, error) {
	results := make([]mdm.PushResult, len(infos))
	for i, info := range infos {
		results[i] = mdm.PushResult{EnrollmentID: info.EnrollmentID, ApnsID: "test-apns-id"}
	}
	return results, nil
}

func testServer(t *testing.T) (http.Handler, *store.SQLite) {
	t.Helper()
	logger := logrus.NewEntry(logrus.New())
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	svc := service.NewCertAuth(s, service.NewNanoMDM(s, logger), logger)
	mdmHandler := NewMDMHandler(svc, logger, false, nil)
	operator := NewOperatorHandler(s, push.NewService(s, nullPusher{}), nil, logger)
	return NewRouter(mdmHandler, operator, nil, logger), s
}

func deviceCertPEM(t *testing.T) (*x509.Certificate, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mdm-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	pemText := "-----BEGIN CERTIFICATE-----\n" + wrap64(der) + "-----END CERTIFICATE-----\n"
	return cert, pemText
}

func wrap64(der []byte) string {
	encoded := base64.StdEncoding.EncodeToString(der)
	var sb strings.Builder
	for len(encoded) > 64 {
		sb.WriteString(encoded[:64] + "\n")
		encoded = encoded[64:]
	}
	sb.WriteString(encoded + "\n")
	return sb.String()
}

func checkinPlist(messageType, udid string, extra string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>MessageType</key><string>%s</string>
	<key>UDID</key><string>%s</string>
	<key>Topic</key><string>com.apple.mgmt.External.test</string>
	%s
</dict></plist>`, messageType, udid, extra)
}

func postWithCert(t *testing.T, handler http.Handler, path, body string, cert *x509.Certificate) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if cert != nil {
		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFreshEnrollmentFlow(t *testing.T) {
	handler, s := testServer(t)
	cert, _ := deviceCertPEM(t)

	rec := postWithCert(t, handler, "/mdm/checkin", checkinPlist("Authenticate", "UDID-1", ""), cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("Authenticate: status %d: %s", rec.Code, rec.Body.String())
	}

	tokenUpdate := checkinPlist("TokenUpdate", "UDID-1", `
	<key>Token</key><data>dG9rZW4=</data>
	<key>PushMagic</key><string>MAGIC</string>`)
	rec = postWithCert(t, handler, "/mdm/checkin", tokenUpdate, cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("TokenUpdate: status %d: %s", rec.Code, rec.Body.String())
	}

	disabled, err := s.IsDisabled(context.Background(), &mdm.EnrollID{Type: mdm.Device, ID: "UDID-1"})
	if err != nil {
		t.Fatal(err)
	}
	if disabled {
		t.Error("enrollment disabled after full check-in flow")
	}
}

func TestForeignCertRejected(t *testing.T) {
	handler, _ := testServer(t)
	cert, _ := deviceCertPEM(t)
	intruder, _ := deviceCertPEM(t)

	rec := postWithCert(t, handler, "/mdm/checkin", checkinPlist("Authenticate", "UDID-1", ""), cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("Authenticate: status %d", rec.Code)
	}

	tokenUpdate := checkinPlist("TokenUpdate", "UDID-1", `
	<key>Token</key><data>dG9rZW4=</data>
	<key>PushMagic</key><string>MAGIC</string>`)
	rec = postWithCert(t, handler, "/mdm/checkin", tokenUpdate, intruder)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("TokenUpdate with foreign cert: status %d, want 401", rec.Code)
	}
}

func TestMalformedCheckinRejected(t *testing.T) {
	handler, _ := testServer(t)
	cert, _ := deviceCertPEM(t)

	rec := postWithCert(t, handler, "/mdm/checkin", "this is not a plist", cert)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}

	// Resolvable message type but no identity fields.
	empty := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>MessageType</key><string>Authenticate</string></dict></plist>`
	rec = postWithCert(t, handler, "/mdm/checkin", empty, cert)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unresolved identity: status %d, want 400", rec.Code)
	}
}

func TestEnqueueAndVerbatimDelivery(t *testing.T) {
	handler, _ := testServer(t)
	cert, _ := deviceCertPEM(t)

	rec := postWithCert(t, handler, "/mdm/checkin", checkinPlist("Authenticate", "UDID-1", ""), cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("Authenticate: status %d", rec.Code)
	}

	commandBody := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>CommandUUID</key><string>op-123</string>
	<key>Command</key><dict>
		<key>RequestType</key><string>DeviceLock</string>
		<key>PIN</key><string>123456</string>
	</dict>
</dict></plist>`
	rec = postWithCert(t, handler, "/v1/enqueue/UDID-1", commandBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue: status %d: %s", rec.Code, rec.Body.String())
	}
	var enqueueResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &enqueueResp); err != nil {
		t.Fatal(err)
	}
	if enqueueResp["command_uuid"] != "op-123" || enqueueResp["request_type"] != "DeviceLock" {
		t.Errorf("enqueue response = %v", enqueueResp)
	}

	// The device's Idle poll receives exactly the plist that was
	// enqueued.
	idle := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>UDID</key><string>UDID-1</string>
	<key>Status</key><string>Idle</string>
</dict></plist>`
	rec = postWithCert(t, handler, "/mdm/command", idle, cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("command poll: status %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte(commandBody)) {
		t.Error("delivered command differs from enqueued plist")
	}

	// An acknowledged report drains the queue; the next poll is empty.
	ack := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
	<key>UDID</key><string>UDID-1</string>
	<key>CommandUUID</key><string>op-123</string>
	<key>Status</key><string>Acknowledged</string>
</dict></plist>`
	rec = postWithCert(t, handler, "/mdm/command", ack, cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: status %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("ack response body = %q, want empty", rec.Body.String())
	}
}

func TestEnqueueRejectsBadCommand(t *testing.T) {
	handler, _ := testServer(t)

	rec := postWithCert(t, handler, "/v1/enqueue/UDID-1", "not a plist", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestBearerAuthGuardsOperatorAPI(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	svc := service.NewCertAuth(s, service.NewNanoMDM(s, logger), logger)
	mdmHandler := NewMDMHandler(svc, logger, false, nil)
	operator := NewOperatorHandler(s, push.NewService(s, nullPusher{}), nil, logger)
	secret := []byte("test-secret")
	handler := NewRouter(mdmHandler, operator, secret, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pushcert?topic=x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	token, err := NewOperatorToken(secret, "ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/pushcert?topic=x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("valid token: status %d, want 404 for unknown topic", rec.Code)
	}

	// Device endpoints stay reachable without bearer tokens.
	cert, _ := deviceCertPEM(t)
	rec = postWithCert(t, handler, "/mdm/checkin", checkinPlist("Authenticate", "UDID-1", ""), cert)
	if rec.Code != http.StatusOK {
		t.Fatalf("device endpoint behind jwt: status %d", rec.Code)
	}
}

func TestProxyHeaderCertExtraction(t *testing.T) {
	handler, _ := testServer(t)
	_, pemText := deviceCertPEM(t)

	req := httptest.NewRequest(http.MethodPost, "/mdm/checkin",
		strings.NewReader(checkinPlist("Authenticate", "UDID-1", "")))
	req.Header.Set("X-Ssl-Client-Cert", url.QueryEscape(pemText))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}
