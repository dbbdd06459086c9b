package api

import (
	"net/http"

	"github.com/technosupport/ts-wristlink/internal/push"
)

type NotifyHandler struct {
	Tokens *push.TokenStore
}

type registerRequest struct {
	WatchID     string `json:"watch_id"`
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
}

// Register handles POST /api/wrist_assistant/notifications/register.
func (h *NotifyHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.WatchID == "" {
		jsonMessage(w, http.StatusBadRequest, "watch_id is required")
		return
	}
	if req.DeviceToken == "" {
		jsonMessage(w, http.StatusBadRequest, "device_token is required")
		return
	}

	h.Tokens.Register(req.WatchID, req.DeviceToken, req.Platform,
		push.NormalizeEnvironment(req.Environment))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
