package api

import (
	"crypto/x509"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"howett.net/plist"

	"moonstone/internal/certutil"
	"moonstone/internal/mdm"
	"moonstone/internal/service"
)

// certHeaders are tried in order when no TLS peer certificate is
// present and Mdm-Signature is absent or unverifiable.
var certHeaders = []string{"X-Ssl-Client-Cert", "X-Client-Cert", "Ssl-Client-Cert"}

// MDMHandler serves the device-facing check-in and command endpoints.
type MDMHandler struct {
	svc    service.CheckinAndCommand
	logger *logrus.Entry

	// sigRoots, when set, enables Mdm-Signature as a certificate
	// source and anchors its chain verification. Nil keeps the header
	// path usable without a chain check only if sigVerify is set.
	sigRoots  *x509.CertPool
	sigVerify bool
}

// NewMDMHandler builds the device-facing handler. Passing verifySignature
// enables the Mdm-Signature extraction path; roots may be nil to skip
// chain validation.
func NewMDMHandler(svc service.CheckinAndCommand, logger *logrus.Entry, verifySignature bool, roots *x509.CertPool) *MDMHandler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MDMHandler{svc: svc, logger: logger, sigRoots: roots, sigVerify: verifySignature}
}

// extractCert finds the client certificate: TLS peer certificate first,
// then a verified Mdm-Signature, then forwarded proxy headers.
func (h *MDMHandler) extractCert(r *http.Request, body []byte) *x509.Certificate {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0]
	}
	if h.sigVerify {
		if sig := r.Header.Get("Mdm-Signature"); sig != "" {
			cert, err := certutil.VerifyMdmSignature(sig, body, h.sigRoots)
			if err == nil {
				return cert
			}
			h.logger.WithError(err).Debug("mdm-signature rejected")
		}
	}
	for _, name := range certHeaders {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}
		cert, err := certutil.DecodeCertHeader(value)
		if err == nil {
			return cert
		}
		h.logger.WithError(err).WithField("header", name).Debug("certificate header rejected")
	}
	return nil
}

func (h *MDMHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, mdm.ErrUnresolvedIdentity):
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		h.logger.WithError(err).Error("handling mdm request")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Checkin handles POST /mdm/checkin.
func (h *MDMHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	msg, err := mdm.ParseCheckin(body)
	if err != nil {
		h.logger.WithError(err).Debug("malformed check-in")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	req := mdm.NewRequest(r.Context())
	req.Certificate = h.extractCert(r, body)

	var respBytes []byte
	switch m := msg.(type) {
	case *mdm.Authenticate:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			err = h.svc.Authenticate(req, m)
		}
	case *mdm.TokenUpdate:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			err = h.svc.TokenUpdate(req, m)
		}
	case *mdm.CheckOut:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			err = h.svc.CheckOut(req, m)
		}
	case *mdm.UserAuthenticate:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			respBytes, err = h.svc.UserAuthenticate(req, m)
		}
	case *mdm.SetBootstrapToken:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			err = h.svc.SetBootstrapToken(req, m)
		}
	case *mdm.GetBootstrapToken:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			var token *mdm.BootstrapToken
			token, err = h.svc.GetBootstrapToken(req, m)
			if err == nil && token != nil {
				respBytes, err = plist.Marshal(token, plist.XMLFormat)
			}
		}
	case *mdm.DeclarativeManagement:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			respBytes, err = h.svc.DeclarativeManagement(req, m)
		}
	case *mdm.GetToken:
		req.EnrollID, err = m.Resolve()
		if err == nil {
			var resp *mdm.GetTokenResponse
			resp, err = h.svc.GetToken(req, m)
			if err == nil && resp != nil {
				respBytes, err = plist.Marshal(resp, plist.XMLFormat)
			}
		}
	default:
		http.Error(w, "unsupported message type", http.StatusBadRequest)
		return
	}

	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(respBytes) > 0 {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Write(respBytes)
	}
}

// Command handles POST /mdm/command: a command report in, the next
// queued command (verbatim as enqueued) out.
func (h *MDMHandler) Command(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	results, err := mdm.ParseCommandResults(body)
	if err != nil {
		h.logger.WithError(err).Debug("malformed command report")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	req := mdm.NewRequest(r.Context())
	req.Certificate = h.extractCert(r, body)
	req.EnrollID, err = results.Resolve()
	if err != nil {
		h.writeError(w, err)
		return
	}

	cmd, err := h.svc.CommandAndReportResults(req, results)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cmd != nil {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Write(cmd.Raw)
	}
}
