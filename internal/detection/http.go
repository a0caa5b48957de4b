package detection

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faris-sait/webrtc-vision/internal/httpserver"
)

// Handler exposes the pipeline over REST for clients that want detection
// without a signaling session.
type Handler struct {
	log          *slog.Logger
	pipeline     *Pipeline
	maxBodyBytes int64
}

func NewHandler(logger *slog.Logger, pipeline *Pipeline, maxBodyBytes int64) *Handler {
	return &Handler{log: logger, pipeline: pipeline, maxBodyBytes: maxBodyBytes}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux, guard func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/detect", guard(h.handleDetect))
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpserver.WriteJSONError(w, http.StatusRequestEntityTooLarge, "frame_too_large", "frame exceeds size limit")
			return
		}
		httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.ImageData) == "" {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "missing_image_data", "image_data is required")
		return
	}

	resp, err := h.pipeline.Detect(req)
	if err != nil {
		if errors.Is(err, ErrImageDecode) {
			httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_image", err.Error())
			return
		}
		h.log.Error("detection failed", "err", err)
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "detection_failed", "internal error")
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, resp)
}
