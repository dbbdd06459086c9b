package api

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-wristlink/internal/config"
	"github.com/technosupport/ts-wristlink/internal/metrics"
	"github.com/technosupport/ts-wristlink/internal/pairing"
	"github.com/technosupport/ts-wristlink/internal/ratelimit"
)

type PairingHandler struct {
	Service *pairing.Service
	Limiter *ratelimit.Limiter
	Config  *config.Store
}

type redeemRequest struct {
	PairingCode string `json:"pairing_code"`
	DeviceName  string `json:"device_name"`
}

// Redeem handles POST /api/wrist_assistant/pairing/redeem. The endpoint
// is unauthenticated, so it sits behind a per-IP rate limit.
func (h *PairingHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.PairingCode == "" {
		jsonMessage(w, http.StatusBadRequest, "pairing_code is required")
		return
	}
	codeHint := req.PairingCode
	if len(codeHint) > 8 {
		codeHint = codeHint[:8]
	}
	log.Printf("[INFO] Pairing redeem request code=%s remote=%s", codeHint, r.RemoteAddr)

	payload, err := h.Service.Redeem(r.Context(), req.PairingCode, req.DeviceName)
	if err != nil {
		log.Printf("[ERROR] Pairing redemption failed code=%s: %v", codeHint, err)
		metrics.PairingRedeemsTotal.WithLabelValues("error").Inc()
		jsonMessage(w, http.StatusInternalServerError, "Internal pairing redemption error")
		return
	}
	if payload == nil {
		log.Printf("[WARN] Pairing code invalid/expired code=%s", codeHint)
		metrics.PairingRedeemsTotal.WithLabelValues("rejected").Inc()
		jsonMessage(w, http.StatusBadRequest, "Invalid or expired pairing code")
		return
	}
	log.Printf("[INFO] Pairing redeem success code=%s", codeHint)
	metrics.PairingRedeemsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, payload)
}

// QRCode handles GET /api/wrist_assistant/pairing/qr.svg. Image fetches
// carry no auth headers, so only a valid active one-time code unlocks it.
func (h *PairingHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	if !h.Service.IsActiveCode(r.Context(), r.URL.Query().Get("code")) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(h.Service.SVGQR())
}

type createPairingRequest struct {
	UserID       string `json:"user_id"`
	LocalURL     string `json:"local_url"`
	RemoteURL    string `json:"remote_url"`
	LifespanDays int    `json:"lifespan_days"`
}

// Create handles POST /api/wrist_assistant/admin/pairing/create. Gated by
// the admin key middleware.
func (h *PairingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPairingRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	cfg := h.Config.Current()
	localURL := pairing.SanitizeBaseURL(firstNonEmpty(req.LocalURL, cfg.Pairing.LocalURL))
	remoteURL := pairing.SanitizeBaseURL(firstNonEmpty(req.RemoteURL, cfg.Pairing.RemoteURL))
	baseURL := pairing.SanitizeBaseURL(cfg.Pairing.BaseURL)
	if baseURL == "" {
		baseURL = remoteURL
	}
	if baseURL == "" {
		baseURL = localURL
	}
	if baseURL == "" {
		jsonMessage(w, http.StatusBadRequest,
			"Set local_url/remote_url in the request or configure the pairing base URL.")
		return
	}

	user, err := h.Service.ResolvePairingUser(r.Context(), firstNonEmpty(req.UserID, cfg.Pairing.UserID))
	if err != nil || user == nil {
		jsonMessage(w, http.StatusBadRequest, "Unable to resolve an active owner user for pairing.")
		return
	}

	payload, err := h.Service.RefreshActive(r.Context(), user, baseURL, localURL, remoteURL,
		pairing.ClampLifespan(req.LifespanDays))
	if err != nil {
		log.Printf("[ERROR] Pairing create failed: %v", err)
		jsonMessage(w, http.StatusInternalServerError, "pairing code creation failed")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// allow applies the redeem rate limit. Redis being down fails open: the
// codes themselves are high-entropy single-use credentials.
func (h *PairingHandler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.Limiter == nil {
		return true
	}
	cfg := h.Config.Current().RateLimit.Redeem
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	decision, err := h.Limiter.CheckRateLimit(r.Context(), "redeem:"+h.Limiter.HashIP(ip), ratelimit.LimitConfig{
		Rate:   cfg.Rate,
		Window: time.Duration(cfg.WindowSeconds) * time.Second,
	})
	if err != nil {
		log.Printf("[WARN] Redeem rate limit check failed: %v", err)
		return true
	}
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		jsonMessage(w, http.StatusTooManyRequests, "too many redemption attempts")
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
