package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/faris-sait/webrtc-vision/internal/config"
	"github.com/faris-sait/webrtc-vision/internal/httpserver"
)

// HTTPAPI is the pull transport: clients that cannot hold a WebSocket open
// join a room over plain HTTP, post envelopes, and poll for whatever the
// relay has buffered for them. It shares the Relay with the push transport,
// so push and poll clients signal to each other transparently.
type HTTPAPI struct {
	log   *slog.Logger
	cfg   config.Config
	relay *Relay
}

func NewHTTPAPI(cfg config.Config, logger *slog.Logger, relay *Relay) *HTTPAPI {
	return &HTTPAPI{log: logger, cfg: cfg, relay: relay}
}

// RegisterRoutes attaches the pull transport and room inspection endpoints.
// guard is the origin policy wrapper shared with the other REST surfaces.
func (a *HTTPAPI) RegisterRoutes(mux *http.ServeMux, guard func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/signaling/{room}/join", guard(a.handleJoin))
	mux.HandleFunc("POST /api/signaling/{room}/message", guard(a.handleMessage))
	mux.HandleFunc("GET /api/signaling/{room}/messages/{client}", guard(a.handlePoll))
	mux.HandleFunc("GET /api/rooms/{room}/users", guard(a.handleRoomUsers))
}

func (a *HTTPAPI) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")

	var req struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return
	}

	users := a.relay.Join(roomID, req.ClientID, nil)

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "joined",
		"room_id":   roomID,
		"client_id": req.ClientID,
		"users":     users,
	})
}

func (a *HTTPAPI) handleMessage(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "missing_client_id", "client_id query parameter is required")
		return
	}

	body, err := readBody(w, r, a.cfg.MaxSignalingMessageBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpserver.WriteJSONError(w, http.StatusRequestEntityTooLarge, "message_too_large", "signaling message exceeds size limit")
			return
		}
		httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	msg, err := ParseMessage(body)
	if err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}
	if msg.Type.ServerOriginated() {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "reserved_type", "message type is reserved for the server")
		return
	}

	a.relay.Route(roomID, clientID, msg.Forwarded(clientID, time.Now()))

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (a *HTTPAPI) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client")

	msgs, known := a.relay.Drain(clientID)
	if !known {
		httpserver.WriteJSONError(w, http.StatusNotFound, "unknown_client", "client has not joined")
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (a *HTTPAPI) handleRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	users := a.relay.Members(roomID)

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"users":   users,
		"count":   len(users),
	})
}

func readBody(w http.ResponseWriter, r *http.Request, max int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, max))
}
