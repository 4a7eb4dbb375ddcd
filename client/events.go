package client

import (
	"encoding/json"

	"github.com/nexbid/relay-server/internal/proto"
)

// Event is the closed set of things the relay can tell a client. Consumers
// type-switch over the variants; types the client does not understand arrive
// as UnhandledEvent rather than being dropped, so old clients degrade
// gracefully against newer servers.
type Event interface {
	event()
}

// RFQUpdateEvent is a status change on an RFQ room.
type RFQUpdateEvent struct {
	Room     string
	Sender   string
	Payload  json.RawMessage
	Envelope *proto.Envelope
}

// ComplianceUpdateEvent is a compliance validation result.
type ComplianceUpdateEvent struct {
	Room     string
	Sender   string
	Payload  json.RawMessage
	Envelope *proto.Envelope
}

// CollaborationEvent is a chat message in a room.
type CollaborationEvent struct {
	Room     string
	Sender   string
	Payload  json.RawMessage
	Envelope *proto.Envelope
}

// PresenceEvent covers user_activity (join/leave) and presence_update
// (identity online/offline) traffic.
type PresenceEvent struct {
	Room     string
	Payload  json.RawMessage
	Envelope *proto.Envelope
}

// NotificationEvent is a user-facing notification addressed to this identity.
type NotificationEvent struct {
	Sender   string
	Payload  json.RawMessage
	Envelope *proto.Envelope
}

// ServerErrorEvent is an error-typed envelope from the relay. Non-fatal:
// the connection stays up.
type ServerErrorEvent struct {
	Code    string
	Message string
}

// ParseErrorEvent reports an inbound frame that could not be decoded. The
// frame is discarded; the connection stays up.
type ParseErrorEvent struct {
	Err error
}

// ReconnectsExhaustedEvent is terminal for the current connection lifecycle:
// every retry failed and no further attempt will be scheduled until the host
// calls Connect again.
type ReconnectsExhaustedEvent struct {
	Attempts int
}

// UnhandledEvent carries an envelope whose type this client has no mapping for.
type UnhandledEvent struct {
	Envelope *proto.Envelope
}

func (RFQUpdateEvent) event()           {}
func (ComplianceUpdateEvent) event()    {}
func (CollaborationEvent) event()       {}
func (PresenceEvent) event()            {}
func (NotificationEvent) event()        {}
func (ServerErrorEvent) event()         {}
func (ParseErrorEvent) event()          {}
func (ReconnectsExhaustedEvent) event() {}
func (UnhandledEvent) event()           {}

// eventFromEnvelope maps a decoded envelope to its event variant. The second
// return is false for envelopes consumed silently (heartbeat acks).
func eventFromEnvelope(env *proto.Envelope) (Event, bool) {
	switch env.Type {
	case proto.TypeHeartbeatAck:
		return nil, false
	case proto.TypeRFQUpdate:
		return RFQUpdateEvent{Room: env.TargetRoom, Sender: env.SenderID, Payload: env.Payload, Envelope: env}, true
	case proto.TypeComplianceUpdate:
		return ComplianceUpdateEvent{Room: env.TargetRoom, Sender: env.SenderID, Payload: env.Payload, Envelope: env}, true
	case proto.TypeCollaboration, proto.TypeBroadcast:
		return CollaborationEvent{Room: env.TargetRoom, Sender: env.SenderID, Payload: env.Payload, Envelope: env}, true
	case proto.TypeUserActivity, proto.TypePresenceUpdate:
		return PresenceEvent{Room: env.TargetRoom, Payload: env.Payload, Envelope: env}, true
	case proto.TypeNotification:
		return NotificationEvent{Sender: env.SenderID, Payload: env.Payload, Envelope: env}, true
	case proto.TypeError:
		var body proto.ErrorPayload
		if err := env.DecodePayload(&body); err != nil {
			return ParseErrorEvent{Err: err}, true
		}
		return ServerErrorEvent{Code: body.Code, Message: body.Message}, true
	default:
		return UnhandledEvent{Envelope: env}, true
	}
}
