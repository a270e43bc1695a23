// Package api is the HTTP surface of the MDM server: the device-facing
// plist endpoints and the JSON operator API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter assembles the full server routing tree. jwtSecret guards
// the operator surface; an empty secret leaves it open.
func NewRouter(mdmHandler *MDMHandler, operator *OperatorHandler, jwtSecret []byte, logger *logrus.Entry) http.Handler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	// Device-facing endpoints authenticate with client certificates,
	// never with bearer tokens.
	r.Post("/mdm/checkin", mdmHandler.Checkin)
	r.Post("/mdm/command", mdmHandler.Command)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(jwtSecret, logger))

		r.Put("/v1/pushcert", operator.StorePushCert)
		r.Get("/v1/pushcert", operator.GetPushCert)
		r.Post("/v1/push/{ids}", operator.Push)
		r.Post("/v1/enqueue/{ids}", operator.Enqueue)

		r.Post("/api/focus/policy/{device_id}", operator.SetFocusPolicy)
		r.Get("/api/focus/policy/{device_id}", operator.GetFocusPolicy)
	})

	return r
}
