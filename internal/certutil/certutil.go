// Package certutil decodes client certificates from the various shapes
// reverse proxies and MDM clients deliver them in, and verifies
// detached Mdm-Signature CMS blobs.
package certutil

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mozilla.org/pkcs7"
)

var (
	// ErrNoCertificate is returned when a header or blob holds no
	// parseable certificate.
	ErrNoCertificate = errors.New("no certificate found")

	// ErrNoSigner is returned when a PKCS#7 blob carries no signer
	// certificate.
	ErrNoSigner = errors.New("no signer certificate in signature")
)

// DecodePEMCertificate parses the first CERTIFICATE block in pemBytes.
func DecodePEMCertificate(pemBytes []byte) (*x509.Certificate, error) {
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		return x509.ParseCertificate(block.Bytes)
	}
	return nil, ErrNoCertificate
}

// DecodeCertHeader parses a certificate forwarded in an HTTP header.
// Three encodings are accepted: RFC 9440 (base64 DER between colons),
// URL-escaped PEM, and plain PEM.
func DecodeCertHeader(value string) (*x509.Certificate, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrNoCertificate
	}

	// RFC 9440 byte-sequence form: :MIIB...==:
	if strings.HasPrefix(value, ":") && strings.HasSuffix(value, ":") && len(value) > 2 {
		der, err := base64.StdEncoding.DecodeString(value[1 : len(value)-1])
		if err != nil {
			return nil, fmt.Errorf("decoding RFC 9440 header: %w", err)
		}
		return x509.ParseCertificate(der)
	}

	pemText := value
	if strings.Contains(value, "%") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("unescaping certificate header: %w", err)
		}
		pemText = unescaped
	}
	// Some proxies flatten PEM newlines to spaces.
	if !strings.Contains(pemText, "\n") && strings.Contains(pemText, "-----BEGIN") {
		pemText = restorePEMNewlines(pemText)
	}
	return DecodePEMCertificate([]byte(pemText))
}

func restorePEMNewlines(s string) string {
	s = strings.ReplaceAll(s, "-----BEGIN CERTIFICATE----- ", "-----BEGIN CERTIFICATE-----\n")
	s = strings.ReplaceAll(s, " -----END CERTIFICATE-----", "\n-----END CERTIFICATE-----")
	return strings.ReplaceAll(s, " ", "\n")
}

// VerifyMdmSignature checks a base64 Mdm-Signature header against the
// request body it covers and returns the signing certificate. When
// roots is non-nil the signer chain must terminate in one of them;
// otherwise only the signature itself is checked.
func VerifyMdmSignature(header string, body []byte, roots *x509.CertPool) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("decoding signature header: %w", err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signature: %w", err)
	}
	p7.Content = body
	if roots != nil {
		err = p7.VerifyWithChain(roots)
	} else {
		err = p7.Verify()
	}
	if err != nil {
		return nil, fmt.Errorf("verifying signature: %w", err)
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, ErrNoSigner
	}
	return signer, nil
}

// mgmtTopicPrefix is Apple's push topic namespace for MDM.
const mgmtTopicPrefix = "com.apple.mgmt."

// oidUserID is the X.500 UID attribute, where APNs push certificates
// carry their topic.
var oidUserID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

// TopicFromCert extracts the MDM push topic from a push certificate's
// subject UID.
func TopicFromCert(cert *x509.Certificate) (string, error) {
	for _, attr := range cert.Subject.Names {
		if !attr.Type.Equal(oidUserID) {
			continue
		}
		topic, ok := attr.Value.(string)
		if !ok || !strings.HasPrefix(topic, mgmtTopicPrefix) {
			continue
		}
		return topic, nil
	}
	return "", errors.New("push certificate has no mgmt topic UID")
}
