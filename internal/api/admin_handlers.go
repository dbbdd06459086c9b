package api

import (
	"net/http"

	"github.com/technosupport/ts-wristlink/internal/delta"
)

type AdminHandler struct {
	Engine *delta.Engine
}

// ForceResync handles POST /api/wrist_assistant/admin/force_resync:
// clears every watch session so all clients do a full state refresh.
func (h *AdminHandler) ForceResync(w http.ResponseWriter, r *http.Request) {
	h.Engine.ForceResync()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
