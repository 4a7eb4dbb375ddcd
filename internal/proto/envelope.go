package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the only structure that crosses the wire, in both directions.
// Payload stays raw until a handler knows what the type discriminator means.
type Envelope struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	SenderID   string          `json:"senderId,omitempty"`
	TargetRoom string          `json:"targetRoom,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
}

// Message types shared by server and client. The set is open-ended: types not
// listed here are still relayed, and receivers route them to an unhandled path.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeBroadcast    = "broadcast"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeNotification = "notification"
	TypeError        = "error"

	TypeRFQUpdate        = "rfq_update"
	TypeComplianceUpdate = "compliance_update"
	TypeCollaboration    = "collaboration_message"
	TypeUserActivity     = "user_activity"
	TypePresenceUpdate   = "presence_update"
)

// PresenceRoom is the well-known room that receives agent online/offline events.
const PresenceRoom = "presence"

// ErrParse marks input that could not be decoded into an Envelope. A parse
// failure is reported to the peer and must never tear down the connection.
var ErrParse = errors.New("parse_error")

// AuthPayload carries the bearer credential for post-connect authentication.
type AuthPayload struct {
	Token string `json:"token"`
}

// RoomPayload names the room for join_room / leave_room.
type RoomPayload struct {
	Room string `json:"room"`
}

// NotificationPayload targets an explicit set of user identities instead of a room.
type NotificationPayload struct {
	Recipients []string `json:"recipients"`
	Title      string   `json:"title,omitempty"`
	Body       string   `json:"body,omitempty"`
}

// ErrorPayload is the body of an error-typed envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActivityPayload describes a join/leave observed in a room.
type ActivityPayload struct {
	Room   string `json:"room"`
	User   string `json:"user"`
	Action string `json:"action"` // "joined" or "left"
}

// PresencePayload announces an identity going online or offline.
type PresencePayload struct {
	User   string `json:"user"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status"` // "online" or "offline"
}

// New builds an outbound envelope: payload marshalled, timestamp stamped,
// messageId assigned. SenderID is left empty; the relay stamps it on ingress.
func New(msgType string, payload any, targetRoom string) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return &Envelope{
		Type:       msgType,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
		TargetRoom: targetRoom,
		MessageID:  NewMessageID(msgType),
	}, nil
}

// NewMessageID returns a correlation id unique enough to avoid collision:
// type + millisecond timestamp + random suffix.
func NewMessageID(msgType string) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%d-%s", msgType, time.Now().UnixMilli(), suffix)
}

// Decode parses a raw frame into an Envelope. Malformed input and envelopes
// with no type discriminator come back wrapped in ErrParse.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrParse)
	}
	return &env, nil
}

// Encode serializes an envelope for the transport.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// ErrorEnvelope builds an error-typed envelope addressed to a single peer.
func ErrorEnvelope(code, message string) *Envelope {
	env, _ := New(TypeError, ErrorPayload{Code: code, Message: message}, "")
	return env
}

// DecodePayload unmarshals the envelope payload into out.
func (e *Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is empty", ErrParse, e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrParse, e.Type, err)
	}
	return nil
}
