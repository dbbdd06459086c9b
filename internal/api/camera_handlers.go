package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-wristlink/internal/camera"
	"github.com/technosupport/ts-wristlink/internal/hub"
	"github.com/technosupport/ts-wristlink/internal/metrics"
)

// sourceFailureLimit reverts a source override after this many consecutive
// fetch failures: persistent failure means the override is invalid, not
// that the camera is down.
const sourceFailureLimit = 5

type CameraHandler struct {
	States    hub.StateStore
	Processor *camera.Processor
	Streams   *camera.Coordinator
}

// getEntityID handles both chi and std mux (Go 1.22+)
func getEntityID(r *http.Request) string {
	id := chi.URLParam(r, "entity_id")
	if id == "" {
		id = r.PathValue("entity_id")
	}
	return id
}

func (h *CameraHandler) validCamera(entityID string) bool {
	if !strings.HasPrefix(entityID, "camera.") {
		return false
	}
	return h.States.Get(entityID) != nil
}

// Stream handles GET /api/wrist_assistant/camera/stream/{entity_id} and
// serves a multipart MJPEG stream until the client goes away.
func (h *CameraHandler) Stream(w http.ResponseWriter, r *http.Request) {
	entityID := getEntityID(r)
	if !h.validCamera(entityID) {
		http.Error(w, "Invalid camera entity", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	width := camera.ClampWidth(queryInt(query.Get("width"), camera.DefaultWidth))
	quality := camera.ClampQuality(queryInt(query.Get("quality"), camera.DefaultQuality))
	fps := camera.ClampFPS(queryFloat(query.Get("fps"), camera.DefaultFPS))
	watchID := query.Get("watch_id")
	if watchID == "" {
		watchID = "unknown"
	}

	var viewport *camera.Viewport
	if query.Has("x") {
		viewport = &camera.Viewport{
			X: queryFloat(query.Get("x"), 0),
			Y: queryFloat(query.Get("y"), 0),
			W: queryFloat(query.Get("w"), 1),
			H: queryFloat(query.Get("h"), 1),
		}
	}

	session := h.Streams.GetOrCreate(watchID, entityID, width, quality, fps, viewport)
	defer func() {
		h.Streams.Remove(watchID, entityID)
		log.Printf("[DEBUG] Camera stream ended for %s (watch: %s)", entityID, watchID)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	consecutiveSourceErrors := 0

	for {
		params := session.Snapshot()
		fetchEntity := entityID
		if params.SourceEntityID != "" {
			fetchEntity = params.SourceEntityID
		}
		frameInterval := time.Duration(float64(time.Second) / params.FPS)

		frame, err := h.Processor.Frame(ctx, fetchEntity, params.Viewport, params.Width, params.Quality)
		switch {
		case err == nil:
			part := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			if _, werr := w.Write(append([]byte(part), frame...)); werr != nil {
				return
			}
			if _, werr := w.Write([]byte("\r\n")); werr != nil {
				return
			}
			flusher.Flush()
			metrics.FramesEncodedTotal.Inc()
			consecutiveSourceErrors = 0
		case errors.Is(err, context.Canceled):
			return
		default:
			// Transient upstream failure: skip the frame, keep the stream.
			log.Printf("[DEBUG] Frame error for %s, continuing: %v", entityID, err)
			if fetchEntity != entityID {
				consecutiveSourceErrors++
			}
		}

		if consecutiveSourceErrors >= sourceFailureLimit && fetchEntity != entityID {
			if session.ClearSourceIf(fetchEntity) {
				log.Printf("[WARN] Reverted source override for %s after %d failures (was %s)",
					entityID, consecutiveSourceErrors, fetchEntity)
			}
			consecutiveSourceErrors = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(frameInterval):
		}
	}
}

type viewportRequest struct {
	WatchID  string   `json:"watch_id"`
	EntityID string   `json:"entity_id"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	W        *float64 `json:"w"`
	H        *float64 `json:"h"`
	Width    *int     `json:"width"`
	Quality  *int     `json:"quality"`
	FPS      *float64 `json:"fps"`
	// Distinguishes "clear the override" (explicit null) from "leave it".
	SourceEntityID json.RawMessage `json:"source_entity_id"`
}

// Viewport handles POST /api/wrist_assistant/camera/viewport: mutate a
// live stream session mid-flight.
func (h *CameraHandler) Viewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.WatchID == "" || req.EntityID == "" {
		jsonMessage(w, http.StatusBadRequest, "entity_id and watch_id required")
		return
	}

	update := camera.Update{
		Width:   req.Width,
		Quality: req.Quality,
		FPS:     req.FPS,
	}
	if req.X != nil || req.Y != nil || req.W != nil || req.H != nil {
		update.Viewport = &camera.Viewport{
			X: floatOr(req.X, 0),
			Y: floatOr(req.Y, 0),
			W: floatOr(req.W, 1),
			H: floatOr(req.H, 1),
		}
	}

	if len(req.SourceEntityID) > 0 {
		if string(req.SourceEntityID) == "null" {
			update.SourceSet = true // clear back to original
		} else {
			var sid string
			if err := json.Unmarshal(req.SourceEntityID, &sid); err != nil || !strings.HasPrefix(sid, "camera.") {
				jsonMessage(w, http.StatusBadRequest, "source_entity_id must start with camera.")
				return
			}
			if h.States.Get(sid) == nil {
				jsonMessage(w, http.StatusNotFound, fmt.Sprintf("Entity %s not found", sid))
				return
			}
			update.SourceSet = true
			update.Source = &sid
		}
	}

	if !h.Streams.Update(req.WatchID, req.EntityID, update) {
		jsonMessage(w, http.StatusNotFound, "No active stream for this session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type batchRequest struct {
	Cameras []struct {
		EntityID string   `json:"entity_id"`
		Width    *float64 `json:"width"`
		Quality  *float64 `json:"quality"`
	} `json:"cameras"`
}

// Batch handles POST /api/wrist_assistant/camera/batch: parallel one-shot
// snapshots for up to eight cameras.
func (h *CameraHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		jsonMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Cameras) == 0 {
		jsonMessage(w, http.StatusBadRequest, "cameras array is required")
		return
	}
	if len(req.Cameras) > camera.MaxBatchCameras {
		req.Cameras = req.Cameras[:camera.MaxBatchCameras]
	}

	specs := make([]camera.BatchSpec, 0, len(req.Cameras))
	for _, c := range req.Cameras {
		if !strings.HasPrefix(c.EntityID, "camera.") {
			continue
		}
		specs = append(specs, camera.BatchSpec{
			EntityID: c.EntityID,
			Width:    camera.ClampWidth(intOr(c.Width, camera.DefaultWidth)),
			Quality:  camera.ClampQuality(intOr(c.Quality, camera.DefaultQuality)),
		})
	}

	snapshots := h.Processor.Batch(r.Context(), specs)
	metrics.BatchSnapshotsTotal.Add(float64(len(snapshots)))
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	// Clients send widths as floats; accept both.
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return int(f)
}

func queryFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *float64, def int) int {
	if v == nil {
		return def
	}
	return int(*v)
}
