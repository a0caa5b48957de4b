package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/faris-sait/webrtc-vision/internal/detection"
)

// MessageType identifies a signaling envelope variant. Types outside the
// reserved set are forwarded verbatim so clients can layer their own
// application messages on top of the relay.
type MessageType string

const (
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice_candidate"

	MessageTypeGetRoomUsers MessageType = "get_room_users"
	MessageTypeRoomUsers    MessageType = "room_users"
	MessageTypeUserJoined   MessageType = "user_joined"
	MessageTypeUserLeft     MessageType = "user_left"

	MessageTypeDetectionFrame  MessageType = "detection_frame"
	MessageTypeDetectionResult MessageType = "detection_result"
	MessageTypeDetectionError  MessageType = "detection_error"
)

// IsSDP reports whether the type carries a session description payload.
func (t MessageType) IsSDP() bool {
	return t == MessageTypeOffer || t == MessageTypeAnswer
}

// ServerOriginated reports whether the type is reserved for messages the
// relay itself emits. Clients cannot forward these through a room.
func (t MessageType) ServerOriginated() bool {
	switch t {
	case MessageTypeRoomUsers, MessageTypeUserJoined, MessageTypeUserLeft,
		MessageTypeDetectionResult, MessageTypeDetectionError:
		return true
	}
	return false
}

// Message is the single envelope exchanged over both signaling transports.
// Only the fields relevant to a given type are populated; everything else
// stays at its zero value and is omitted from the wire form.
type Message struct {
	Type MessageType `json:"type"`

	// Data is the opaque payload forwarded between peers. For offer/answer
	// it is a session description, for ice_candidate a candidate init.
	Data json.RawMessage `json:"data,omitempty"`

	// TargetID narrows delivery to a single client. Empty means broadcast
	// to every other room member.
	TargetID string `json:"target_id,omitempty"`

	// SenderID and Timestamp are stamped by the relay on forwarded
	// messages. Timestamp is epoch seconds.
	SenderID  string  `json:"sender_id,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`

	// detection_frame request fields.
	FrameData string  `json:"frame_data,omitempty"`
	FrameID   string  `json:"frame_id,omitempty"`
	CaptureTS float64 `json:"capture_ts,omitempty"`

	// Membership event fields.
	ClientID string   `json:"client_id,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
	Users    []string `json:"users,omitempty"`

	// detection_result fields. RecvTS/InferenceTS are epoch seconds.
	RecvTS      float64               `json:"recv_ts,omitempty"`
	InferenceTS float64               `json:"inference_ts,omitempty"`
	Detections  []detection.Detection `json:"detections,omitempty"`

	// detection_error field.
	Error string `json:"error,omitempty"`
}

// ParseMessage decodes a client envelope. Unlike a strict codec it tolerates
// unknown fields and unknown types; the relay forwards what it does not
// understand. Only a missing type is rejected.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode signaling message: %w", err)
	}
	if strings.TrimSpace(string(msg.Type)) == "" {
		return nil, fmt.Errorf("signaling message missing type")
	}
	return &msg, nil
}

// Forwarded builds the copy of a client message that the relay routes to
// other room members: payload and targeting are preserved, sender identity
// and receive time are stamped by the server.
func (m *Message) Forwarded(senderID string, now time.Time) *Message {
	return &Message{
		Type:      m.Type,
		Data:      m.Data,
		TargetID:  m.TargetID,
		SenderID:  senderID,
		Timestamp: epochSeconds(now),
	}
}

// SessionDescription decodes the Data payload of an offer or answer into a
// pion session description. Used for validation before forwarding; the relay
// never applies the SDP itself.
func (m *Message) SessionDescription() (webrtc.SessionDescription, error) {
	var wire struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(m.Data, &wire); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode sdp payload: %w", err)
	}
	var t webrtc.SDPType
	switch wire.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", wire.Type)
	}
	if wire.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("empty sdp")
	}
	return webrtc.SessionDescription{Type: t, SDP: wire.SDP}, nil
}

// ICECandidate decodes the Data payload of an ice_candidate message.
func (m *Message) ICECandidate() (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Data, &init); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode candidate payload: %w", err)
	}
	if init.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("empty candidate")
	}
	return init, nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
