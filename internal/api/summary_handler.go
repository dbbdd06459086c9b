package api

import (
	"net/http"

	"github.com/technosupport/ts-wristlink/internal/summary"
)

type summaryRequest struct {
	IncludeDetails   bool                `json:"include_details"`
	BatteryThreshold int                 `json:"battery_threshold"`
	SummaryEntities  map[string][]string `json:"summary_entities"`
}

type summaryResponse struct {
	InfoSummary  *summary.InfoSummary `json:"info_summary"`
	Capabilities []string             `json:"capabilities"`
}

type SummaryHandler struct {
	Projector *summary.Projector
}

// Summarize handles POST /api/wrist_assistant/summary.
func (h *SummaryHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	info := h.Projector.Compute(summary.Options{
		IncludeDetails:   req.IncludeDetails,
		BatteryThreshold: req.BatteryThreshold,
		EntityFilter:     req.SummaryEntities,
	})
	writeJSON(w, http.StatusOK, summaryResponse{
		InfoSummary:  info,
		Capabilities: capabilities,
	})
}
