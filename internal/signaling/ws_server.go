package signaling

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/faris-sait/webrtc-vision/internal/config"
	"github.com/faris-sait/webrtc-vision/internal/detection"
	"github.com/faris-sait/webrtc-vision/internal/metrics"
	"github.com/faris-sait/webrtc-vision/internal/origin"
	"github.com/faris-sait/webrtc-vision/internal/ratelimit"
)

const wsWriteWait = 5 * time.Second

// WebSocketServer is the push transport: one WebSocket per client, joined to
// a room for the lifetime of the connection.
//
// It enforces per-connection limits so one misbehaving browser tab cannot
// take the relay down: a read size cap sized for inline base64 frames, a
// message-rate token bucket, and a ping/pong idle timeout.
type WebSocketServer struct {
	log      *slog.Logger
	cfg      config.Config
	metrics  *metrics.Metrics
	relay    *Relay
	pipeline *detection.Pipeline
	upgrader websocket.Upgrader

	clock ratelimit.Clock
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, relay *Relay, pipeline *detection.Pipeline) *WebSocketServer {
	s := &WebSocketServer{
		log:      logger,
		cfg:      cfg,
		metrics:  m,
		relay:    relay,
		pipeline: pipeline,
		clock:    ratelimit.RealClock{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin applies the same policy as the REST endpoints. Non-browser
// clients that send no Origin header are admitted.
func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalizedOrigin, originHost, ok := origin.Normalize(originHeader)
	return ok && origin.Allowed(normalizedOrigin, originHost, r.Host, s.cfg.AllowedOrigins)
}

// HandleWebSocket serves GET /api/ws/{room}. The connection is assigned a
// fresh client ID, joined to the room, and read until it closes; membership
// and the user_left broadcast are torn down on any exit path.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if strings.TrimSpace(roomID) == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "room_id", roomID, "err", err)
		return
	}

	defer conn.Close()

	clientID := uuid.NewString()
	s.metrics.Inc(metrics.WSConnections)

	t := &wsTransport{conn: conn}
	s.relay.Join(roomID, clientID, t)
	defer s.relay.Leave(roomID, clientID)

	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(t, stopPing)

	limiter := ratelimit.NewTokenBucket(s.clock,
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", "room_id", roomID, "client_id", clientID, "err", err)
			}
			return
		}

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			// Malformed frames are dropped, not fatal: a flaky client should
			// not lose its room membership over one bad payload.
			s.log.Debug("dropping malformed message", "room_id", roomID, "client_id", clientID, "err", err)
			continue
		}

		s.dispatch(roomID, clientID, t, msg)
	}
}

func (s *WebSocketServer) dispatch(roomID, clientID string, t *wsTransport, msg *Message) {
	switch msg.Type {
	case MessageTypeOffer, MessageTypeAnswer:
		if _, err := msg.SessionDescription(); err != nil {
			s.log.Debug("forwarding sdp that failed validation", "room_id", roomID, "client_id", clientID, "type", msg.Type, "err", err)
		}
		s.relay.Route(roomID, clientID, msg.Forwarded(clientID, time.Now()))

	case MessageTypeICECandidate:
		if _, err := msg.ICECandidate(); err != nil {
			s.log.Debug("forwarding candidate that failed validation", "room_id", roomID, "client_id", clientID, "err", err)
		}
		s.relay.Route(roomID, clientID, msg.Forwarded(clientID, time.Now()))

	case MessageTypeGetRoomUsers:
		_ = t.Deliver(&Message{
			Type:   MessageTypeRoomUsers,
			RoomID: roomID,
			Users:  s.relay.Members(roomID),
		})

	case MessageTypeDetectionFrame:
		s.handleDetectionFrame(clientID, msg)

	default:
		if msg.Type.ServerOriginated() {
			s.log.Debug("dropping spoofed server message", "room_id", roomID, "client_id", clientID, "type", msg.Type)
			return
		}
		// Unknown application types ride the same routing as signaling
		// messages so clients can extend the protocol without server changes.
		s.relay.Route(roomID, clientID, msg.Forwarded(clientID, time.Now()))
	}
}

// handleDetectionFrame runs inference inline on the connection's read loop.
// That blocks only this client; results and errors go back to the sender,
// never to the room.
func (s *WebSocketServer) handleDetectionFrame(clientID string, msg *Message) {
	threshold := s.cfg.DetectionConfidence
	resp, err := s.pipeline.Detect(detection.Request{
		ImageData:           msg.FrameData,
		ConfidenceThreshold: &threshold,
		FrameID:             msg.FrameID,
		CaptureTS:           msg.CaptureTS,
	})
	if err != nil {
		s.relay.SendTo(clientID, &Message{
			Type:    MessageTypeDetectionError,
			FrameID: msg.FrameID,
			Error:   err.Error(),
		})
		return
	}

	s.relay.SendTo(clientID, &Message{
		Type:        MessageTypeDetectionResult,
		FrameID:     resp.FrameID,
		CaptureTS:   resp.CaptureTS,
		RecvTS:      resp.RecvTS,
		InferenceTS: resp.InferenceTS,
		Detections:  resp.Detections,
	})
}

func (s *WebSocketServer) pingLoop(t *wsTransport, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.SignalingWSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.Ping(); err != nil {
				return
			}
		}
	}
}

// wsTransport adapts a gorilla connection to the relay Transport. The write
// mutex covers both JSON deliveries and control pings; gorilla permits one
// concurrent writer only.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Deliver(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
