package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-wristlink/internal/middleware"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Updates *UpdatesHandler
	Summary *SummaryHandler
	Pairing *PairingHandler
	Camera  *CameraHandler
	Notify  *NotifyHandler
	Admin   *AdminHandler

	Auth     *middleware.BearerAuth
	AdminKey middleware.AdminKeyProvider
	Metrics  http.Handler
}

// NewRouter assembles the full endpoint map. Gzip wraps the JSON routes
// only; the MJPEG stream and the QR image go out raw.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)

	// Public: redeem is the one unauthenticated JSON endpoint; the QR
	// image gates itself on the active code.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Gzip)
		r.Post("/api/wrist_assistant/pairing/redeem", d.Pairing.Redeem)
	})
	r.Get("/api/wrist_assistant/pairing/qr.svg", d.Pairing.QRCode)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	// Authenticated JSON endpoints.
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(middleware.Gzip)
		r.Post("/api/watch/updates", d.Updates.Poll)
		r.Post("/api/wrist_assistant/summary", d.Summary.Summarize)
		r.Post("/api/wrist_assistant/camera/viewport", d.Camera.Viewport)
		r.Post("/api/wrist_assistant/camera/batch", d.Camera.Batch)
		r.Post("/api/wrist_assistant/notifications/register", d.Notify.Register)
	})

	// Authenticated stream, uncompressed.
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Get("/api/wrist_assistant/camera/stream/{entity_id}", d.Camera.Stream)
	})

	// Operator endpoints behind the admin key.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(d.AdminKey))
		r.Use(middleware.Gzip)
		r.Post("/api/wrist_assistant/admin/pairing/create", d.Pairing.Create)
		r.Post("/api/wrist_assistant/admin/force_resync", d.Admin.ForceResync)
	})

	return r
}
