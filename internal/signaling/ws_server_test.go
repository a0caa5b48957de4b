package signaling

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/faris-sait/webrtc-vision/internal/config"
	"github.com/faris-sait/webrtc-vision/internal/detection"
	"github.com/faris-sait/webrtc-vision/internal/metrics"
)

func wsTestConfig() config.Config {
	return config.Config{
		MaxSignalingMessageBytes:      1 << 20,
		MaxSignalingMessagesPerSecond: 1000,
		SignalingWSIdleTimeout:        5 * time.Second,
		SignalingWSPingInterval:       time.Second,
		MaxPendingMessages:            16,
		DetectionConfidence:           0.5,
		DetectionMaxDetections:        100,
	}
}

func startWSTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *Relay) {
	t.Helper()

	m := metrics.New()
	relay := NewRelay(testLogger(), m, cfg.MaxPendingMessages)
	pipeline := detection.NewPipeline(detection.Config{
		Logger:                     testLogger(),
		Metrics:                    m,
		Rand:                       rand.New(rand.NewSource(1)),
		DefaultConfidenceThreshold: cfg.DetectionConfidence,
		DefaultMaxDetections:       cfg.DetectionMaxDetections,
	})
	ws := NewWebSocketServer(cfg, testLogger(), m, relay, pipeline)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ws/{room}", ws.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, relay
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/" + room
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return &msg
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketOfferAnswerExchange(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	alice := dialRoom(t, srv, "room1")
	bob := dialRoom(t, srv, "room1")

	joined := readEnvelope(t, alice)
	if joined.Type != MessageTypeUserJoined || joined.ClientID == "" {
		t.Fatalf("got %+v, want user_joined", joined)
	}
	bobID := joined.ClientID

	writeEnvelope(t, alice, map[string]any{
		"type": "offer",
		"data": map[string]any{"type": "offer", "sdp": "v=0\r\n"},
	})

	offer := readEnvelope(t, bob)
	if offer.Type != MessageTypeOffer {
		t.Fatalf("got %+v, want offer", offer)
	}
	if offer.SenderID == "" || offer.SenderID == bobID {
		t.Fatalf("sender_id=%q, want alice's id", offer.SenderID)
	}
	if offer.Timestamp == 0 {
		t.Fatalf("forwarded offer missing timestamp")
	}
	var sdp struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(offer.Data, &sdp); err != nil || sdp.SDP != "v=0\r\n" {
		t.Fatalf("payload not preserved: %s", offer.Data)
	}

	// Answer goes back targeted at the offerer only.
	writeEnvelope(t, bob, map[string]any{
		"type":      "answer",
		"target_id": offer.SenderID,
		"data":      map[string]any{"type": "answer", "sdp": "v=0\r\n"},
	})

	answer := readEnvelope(t, alice)
	if answer.Type != MessageTypeAnswer || answer.SenderID != bobID {
		t.Fatalf("got %+v, want answer from bob", answer)
	}
}

func TestWebSocketBroadcastReachesAllOthersOnce(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	alice := dialRoom(t, srv, "room1")
	bob := dialRoom(t, srv, "room1")
	readEnvelope(t, alice) // bob joins
	carol := dialRoom(t, srv, "room1")
	readEnvelope(t, alice) // carol joins
	readEnvelope(t, bob)   // carol joins

	writeEnvelope(t, alice, map[string]any{
		"type": "ice_candidate",
		"data": map[string]any{"candidate": "candidate:1 1 udp 1 192.0.2.1 1 typ host"},
	})

	for _, conn := range []*websocket.Conn{bob, carol} {
		msg := readEnvelope(t, conn)
		if msg.Type != MessageTypeICECandidate {
			t.Fatalf("got %+v, want ice_candidate", msg)
		}
	}

	// The sender hears nothing back; the next message it reads must be
	// something else entirely.
	writeEnvelope(t, bob, map[string]any{"type": "get_room_users"})
	users := readEnvelope(t, bob)
	if users.Type != MessageTypeRoomUsers || len(users.Users) != 3 || users.RoomID != "room1" {
		t.Fatalf("got %+v, want room_users with 3 members", users)
	}
}

func TestWebSocketDisconnectBroadcastsUserLeft(t *testing.T) {
	srv, relay := startWSTestServer(t, wsTestConfig())

	alice := dialRoom(t, srv, "room1")
	bob := dialRoom(t, srv, "room1")
	joined := readEnvelope(t, alice)

	bob.Close()

	left := readEnvelope(t, alice)
	if left.Type != MessageTypeUserLeft || left.ClientID != joined.ClientID {
		t.Fatalf("got %+v, want user_left for %s", left, joined.ClientID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(relay.Members("room1")) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("members=%v, want 1 after disconnect", relay.Members("room1"))
}

func TestWebSocketMalformedMessagesAreDropped(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	alice := dialRoom(t, srv, "room1")
	bob := dialRoom(t, srv, "room1")
	readEnvelope(t, alice)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeEnvelope(t, alice, map[string]any{"data": map[string]any{}}) // no type

	// The connection survives and keeps relaying.
	writeEnvelope(t, alice, map[string]any{
		"type": "offer",
		"data": map[string]any{"type": "offer", "sdp": "v=0"},
	})
	offer := readEnvelope(t, bob)
	if offer.Type != MessageTypeOffer {
		t.Fatalf("got %+v, want offer", offer)
	}
}

func TestWebSocketRateLimitClosesConnection(t *testing.T) {
	cfg := wsTestConfig()
	cfg.MaxSignalingMessagesPerSecond = 2
	srv, _ := startWSTestServer(t, cfg)

	conn := dialRoom(t, srv, "room1")
	for i := 0; i < 10; i++ {
		if err := conn.WriteJSON(map[string]any{"type": "get_room_users"}); err != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("close err=%v, want policy violation", err)
			}
			return
		}
	}
}

func TestWebSocketDetectionFrame(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	conn := dialRoom(t, srv, "room1")

	writeEnvelope(t, conn, map[string]any{
		"type":       "detection_frame",
		"frame_id":   "frame-1",
		"capture_ts": 1700000000.25,
		"frame_data": testFramePNG(t),
	})

	result := readEnvelope(t, conn)
	if result.Type != MessageTypeDetectionResult {
		t.Fatalf("got %+v, want detection_result", result)
	}
	if result.FrameID != "frame-1" {
		t.Fatalf("frame_id=%q, want frame-1", result.FrameID)
	}
	if result.CaptureTS != 1700000000.25 {
		t.Fatalf("capture_ts=%v, want echo of request", result.CaptureTS)
	}
	if result.RecvTS == 0 || result.InferenceTS < result.RecvTS {
		t.Fatalf("timestamps out of order: %+v", result)
	}
	for _, d := range result.Detections {
		if d.Confidence < 0.5 {
			t.Fatalf("detection below threshold: %+v", d)
		}
		if d.BBox.Width != d.BBox.X2-d.BBox.X1 || d.BBox.Height != d.BBox.Y2-d.BBox.Y1 {
			t.Fatalf("bbox dimensions inconsistent: %+v", d.BBox)
		}
	}
}

func TestWebSocketDetectionFrameBadPayload(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	conn := dialRoom(t, srv, "room1")

	writeEnvelope(t, conn, map[string]any{
		"type":       "detection_frame",
		"frame_id":   "frame-bad",
		"frame_data": "invalid_base64_data",
	})

	errMsg := readEnvelope(t, conn)
	if errMsg.Type != MessageTypeDetectionError || errMsg.FrameID != "frame-bad" {
		t.Fatalf("got %+v, want detection_error for frame-bad", errMsg)
	}
	if errMsg.Error == "" {
		t.Fatalf("detection_error missing error text")
	}
}

func TestWebSocketSpoofedServerTypesDropped(t *testing.T) {
	srv, _ := startWSTestServer(t, wsTestConfig())

	alice := dialRoom(t, srv, "room1")
	bob := dialRoom(t, srv, "room1")
	readEnvelope(t, alice)

	writeEnvelope(t, alice, map[string]any{"type": "user_left", "client_id": "bob"})
	// A custom application type still flows.
	writeEnvelope(t, alice, map[string]any{"type": "chat", "data": map[string]any{"text": "hi"}})

	msg := readEnvelope(t, bob)
	if msg.Type != "chat" {
		t.Fatalf("got %+v, want the chat message only", msg)
	}
}

// testFramePNG returns a small PNG as base64, the way a browser canvas
// submits frames.
func testFramePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
