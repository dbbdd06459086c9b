package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-wristlink/internal/delta"
	"github.com/technosupport/ts-wristlink/internal/metrics"
	"github.com/technosupport/ts-wristlink/internal/push"
	"github.com/technosupport/ts-wristlink/internal/summary"
)

const (
	defaultTimeoutSeconds = 45
	minTimeoutSeconds     = 5
	maxTimeoutSeconds     = 55
)

// capabilities advertised in every delta envelope, sorted.
var capabilities = []string{
	"camera_batch",
	"camera_stream",
	"camera_viewport",
	"pairing_qr",
	"push_notifications",
	"slim_events",
	"summary",
}

type updatesRequest struct {
	WatchID          string              `json:"watch_id"`
	ConfigHash       string              `json:"config_hash"`
	Since            *string             `json:"since"`
	Entities         *[]string           `json:"entities"`
	Timeout          *int                `json:"timeout"`
	Slim             bool                `json:"slim"`
	ForceDelta       bool                `json:"force_delta"`
	IncludeSummary   bool                `json:"include_summary"`
	BatteryThreshold int                 `json:"battery_threshold"`
	SummaryEntities  map[string][]string `json:"summary_entities"`
	DeviceToken      string              `json:"device_token"`
	APNSEnvironment  string              `json:"apns_environment"`
}

// UpdatesHandler serves the long-poll delta endpoint.
type UpdatesHandler struct {
	Engine    *delta.Engine
	Projector *summary.Projector
	Tokens    *push.TokenStore
}

// Poll handles POST /api/watch/updates.
func (h *UpdatesHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var req updatesRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.WatchID == "" {
		jsonMessage(w, http.StatusBadRequest, "watch_id is required")
		return
	}
	if req.ConfigHash == "" {
		jsonMessage(w, http.StatusBadRequest, "config_hash is required")
		return
	}

	timeout := defaultTimeoutSeconds
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	if timeout < minTimeoutSeconds {
		timeout = minTimeoutSeconds
	}
	if timeout > maxTimeoutSeconds {
		timeout = maxTimeoutSeconds
	}

	var entities []string
	if req.Entities != nil {
		entities = make([]string, 0, len(*req.Entities))
		for _, id := range *req.Entities {
			if id != "" {
				entities = append(entities, id)
			}
		}
	}

	// Piggyback token registration: an authenticated poll carrying a
	// device token refreshes the push store without a separate call.
	if h.Tokens != nil && req.DeviceToken != "" {
		h.Tokens.Register(req.WatchID, req.DeviceToken, push.PlatformWatchOS,
			push.NormalizeEnvironment(req.APNSEnvironment))
	}

	status, env, err := h.Engine.HandlePoll(r.Context(), delta.PollRequest{
		WatchID:    req.WatchID,
		ConfigHash: req.ConfigHash,
		Since:      req.Since,
		Entities:   entities,
		Timeout:    time.Duration(timeout) * time.Second,
		Slim:       req.Slim,
		ForceDelta: req.ForceDelta,
	})
	if err != nil {
		// Client cancelled; the session is gone and nothing is writable.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			metrics.PollsTotal.WithLabelValues("cancelled").Inc()
			return
		}
		jsonMessage(w, http.StatusInternalServerError, "internal error")
		metrics.PollsTotal.WithLabelValues("500").Inc()
		return
	}
	metrics.PollsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

	if status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	env.Capabilities = capabilities
	if status == http.StatusOK && (req.IncludeSummary || req.ForceDelta) {
		env.InfoSummary = h.Projector.Compute(summary.Options{
			BatteryThreshold: req.BatteryThreshold,
			EntityFilter:     req.SummaryEntities,
		})
	}
	writeJSON(w, status, env)
}
