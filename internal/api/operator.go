package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"moonstone/internal/agent"
	"moonstone/internal/certutil"
	"moonstone/internal/mdm"
	"moonstone/internal/push"
	"moonstone/internal/store"
)

// certInvalidator lets the push cert upload handler drop a cached APNs
// client after rotation.
type certInvalidator interface {
	Invalidate(topic string)
}

// OperatorHandler serves the authenticated operator surface: push cert
// management, pushes, command enqueueing, and focus policy delivery.
type OperatorHandler struct {
	store       store.AllStore
	pushService *push.Service
	invalidator certInvalidator
	logger      *logrus.Entry
}

// NewOperatorHandler wires the operator API. invalidator may be nil.
func NewOperatorHandler(s store.AllStore, pushService *push.Service, invalidator certInvalidator, logger *logrus.Entry) *OperatorHandler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &OperatorHandler{store: s, pushService: pushService, invalidator: invalidator, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StorePushCert handles PUT /v1/pushcert. The body is concatenated PEM:
// certificate first, private key after.
func (h *OperatorHandler) StorePushCert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	const certEnd = "-----END CERTIFICATE-----"
	idx := strings.Index(string(body), certEnd)
	if idx < 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("no certificate in body"))
		return
	}
	split := idx + len(certEnd)
	certPEM := strings.TrimSpace(string(body[:split]))
	keyPEM := strings.TrimSpace(string(body[split:]))
	if keyPEM == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("no private key in body"))
		return
	}

	cert, err := certutil.DecodePEMCertificate([]byte(certPEM))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	topic, err := certutil.TopicFromCert(cert)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	notAfter := cert.NotAfter
	if err := h.store.StorePushCert(r.Context(), topic, certPEM, keyPEM, &notAfter); err != nil {
		h.logger.WithError(err).Error("storing push cert")
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(topic)
	}

	h.logger.WithField("topic", topic).Info("push certificate stored")
	writeJSON(w, http.StatusOK, map[string]string{
		"topic":     topic,
		"not_after": cert.NotAfter.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// GetPushCert handles GET /v1/pushcert?topic=..., returning metadata
// only; private keys never leave the store.
func (h *OperatorHandler) GetPushCert(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("topic query parameter required"))
		return
	}
	cert, err := h.store.RetrievePushCert(r.Context(), topic)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if cert == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("no push certificate for topic %s", topic))
		return
	}
	resp := map[string]interface{}{
		"topic":      cert.Topic,
		"updated_at": cert.UpdatedAt,
	}
	if cert.NotAfter != nil {
		resp["not_after"] = cert.NotAfter
	}
	writeJSON(w, http.StatusOK, resp)
}

func splitIDs(r *http.Request) []string {
	raw := chi.URLParam(r, "ids")
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Push handles POST /v1/push/{ids}: wake the named enrollments.
func (h *OperatorHandler) Push(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r)
	if len(ids) == 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("no enrollment ids"))
		return
	}
	results, err := h.pushService.Push(r.Context(), ids)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make(map[string]interface{}, len(results))
	for _, result := range results {
		entry := map[string]interface{}{"apns_id": result.ApnsID}
		if result.Err != nil {
			entry["error"] = result.Err.Error()
		}
		resp[result.EnrollmentID] = entry
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": resp})
}

// Enqueue handles POST /v1/enqueue/{ids}: the body is a raw command
// plist, stored verbatim and queued for each named enrollment.
func (h *OperatorHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r)
	if len(ids) == 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("no enrollment ids"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := mdm.DecodeCommand(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	for _, id := range ids {
		enrollID := &mdm.EnrollID{ID: id}
		if _, err := h.store.EnqueueCommand(r.Context(), enrollID, body); err != nil {
			h.logger.WithError(err).WithField("enrollment_id", id).Error("enqueueing command")
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
	}

	h.logger.WithFields(logrus.Fields{
		"command_uuid": cmd.CommandUUID,
		"request_type": cmd.Command.RequestType,
		"enrollments":  len(ids),
	}).Info("command enqueued")
	writeJSON(w, http.StatusOK, map[string]string{
		"command_uuid": cmd.CommandUUID,
		"request_type": cmd.Command.RequestType,
	})
}

// SetFocusPolicy handles POST /api/focus/policy/{device_id}: wraps the
// posted policy in a FocusPolicy command, enqueues it, and wakes the
// device.
func (h *OperatorHandler) SetFocusPolicy(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("device_id required"))
		return
	}

	var body struct {
		Policy agent.FocusPolicy `json:"policy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decoding policy: %w", err))
		return
	}

	policyJSON, err := json.Marshal(body.Policy)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	cmd, err := mdm.NewCommand("FocusPolicy", map[string]interface{}{
		"Policy": string(policyJSON),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	enrollID := &mdm.EnrollID{ID: deviceID}
	if _, err := h.store.EnqueueCommand(r.Context(), enrollID, cmd.Raw); err != nil {
		h.logger.WithError(err).WithField("device_id", deviceID).Error("enqueueing focus policy")
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	// Best-effort wake; the policy is delivered on the next connect
	// either way.
	go func() {
		if _, err := h.pushService.Push(context.Background(), []string{deviceID}); err != nil {
			h.logger.WithError(err).WithField("device_id", deviceID).Debug("focus policy push")
		}
	}()

	h.logger.WithFields(logrus.Fields{
		"device_id":    deviceID,
		"command_uuid": cmd.CommandUUID,
	}).Info("focus policy queued")
	writeJSON(w, http.StatusOK, map[string]string{"command_uuid": cmd.CommandUUID})
}

// GetFocusPolicy is reserved; policy state lives on the device.
func (h *OperatorHandler) GetFocusPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotImplemented, fmt.Errorf("policy retrieval not implemented"))
}
