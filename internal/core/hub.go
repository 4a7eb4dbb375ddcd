package core

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexbid/relay-server/internal/proto"
)

// privateRoomPrefix marks rooms that anonymous connections may not join.
const privateRoomPrefix = "private:"

// Authenticator resolves a bearer credential to an identity. Implemented by
// the auth service; nil disables post-connect authentication.
type Authenticator interface {
	IdentityFromToken(token string) (*Identity, error)
}

// Stats is the health snapshot exposed to operators.
type Stats struct {
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub owns every live connection, the room registry, and envelope routing.
// One instance per process, created at the composition root and passed by
// reference to the transport and to REST producers.
type Hub struct {
	registry *Registry
	auth     Authenticator
	log      *zerolog.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn // user id -> conn id -> conn
}

// NewHub builds a hub. auth may be nil when tokens are verified only at
// connection establishment.
func NewHub(auth Authenticator, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		auth:     auth,
		log:      logger,
		conns:    make(map[string]*Conn),
		byUser:   make(map[string]map[string]*Conn),
	}
}

// Registry exposes the room index for tests and introspection.
func (h *Hub) Registry() *Registry { return h.registry }

// Register admits an accepted connection.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", c.ID).Int("total", total).Msg("connection registered")
}

// Unregister tears a connection down: subscriptions dropped, identity index
// cleaned, and an agent departure announced to the presence room. Safe to
// call once per connection, from the transport's close path.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	identity := c.Identity()
	if identity != nil {
		if set, ok := h.byUser[identity.UserID]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(h.byUser, identity.UserID)
			}
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	rooms := h.registry.DropConnection(c.ID)

	h.log.Info().Str("conn_id", c.ID).Int("total", total).
		Strs("rooms", rooms).Msg("connection unregistered")

	if identity != nil && identity.Agent() {
		env, err := proto.New(proto.TypePresenceUpdate, proto.PresencePayload{
			User:   identity.UserID,
			Role:   identity.Role,
			Status: "offline",
		}, proto.PresenceRoom)
		if err != nil {
			h.log.Error().Err(err).Msg("build presence envelope")
			return
		}
		h.Broadcast(proto.PresenceRoom, env, c.ID)
	}
}

// Authenticate attaches an identity to a connection and indexes it for
// notification targeting. Agents coming online are announced.
func (h *Hub) Authenticate(c *Conn, identity Identity) {
	c.setIdentity(identity)

	h.mu.Lock()
	if h.byUser[identity.UserID] == nil {
		h.byUser[identity.UserID] = make(map[string]*Conn)
	}
	h.byUser[identity.UserID][c.ID] = c
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.ID).Str("user", identity.UserID).
		Str("role", identity.Role).Msg("connection authenticated")

	if identity.Agent() {
		env, err := proto.New(proto.TypePresenceUpdate, proto.PresencePayload{
			User:   identity.UserID,
			Role:   identity.Role,
			Status: "online",
		}, proto.PresenceRoom)
		if err != nil {
			h.log.Error().Err(err).Msg("build presence envelope")
			return
		}
		h.Broadcast(proto.PresenceRoom, env, c.ID)
	}
}

// Conns returns a snapshot of the live connections, for the liveness sweep.
func (h *Hub) Conns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Stats returns the operator-facing health snapshot.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	conns := len(h.conns)
	h.mu.RUnlock()
	return Stats{
		Connections: conns,
		Rooms:       h.registry.RoomCount(),
		Timestamp:   time.Now().UTC(),
	}
}

// HandleEnvelope routes one decoded inbound envelope. Every failure is
// answered with an error envelope to the sender alone; nothing a single
// message does can terminate the connection or leak to other members.
func (h *Hub) HandleEnvelope(c *Conn, env *proto.Envelope) {
	// Never trust identity claims from the wire.
	env.SenderID = ""
	if id := c.Identity(); id != nil {
		env.SenderID = id.UserID
	}

	switch env.Type {
	case proto.TypeAuthenticate:
		h.handleAuthenticate(c, env)
	case proto.TypeJoinRoom:
		h.handleJoin(c, env)
	case proto.TypeLeaveRoom:
		h.handleLeave(c, env)
	case proto.TypeHeartbeat:
		c.MarkAlive()
		ack, err := proto.New(proto.TypeHeartbeatAck, nil, "")
		if err == nil {
			c.Enqueue(ack)
		}
	case proto.TypeNotification:
		h.handleNotification(c, env)
	case proto.TypeError:
		// Clients do not originate errors; log and move on.
		h.log.Warn().Str("conn_id", c.ID).Msg("error envelope from client ignored")
	default:
		// broadcast and every typed update (rfq_update, compliance_update,
		// collaboration_message, user_activity, ...) share the room fan-out
		// path; unknown future types ride along for forward compatibility.
		if env.TargetRoom == "" {
			h.sendError(c, relayError(ErrCodeRoomRequired, "targetRoom is required for "+env.Type))
			return
		}
		h.Broadcast(env.TargetRoom, env, c.ID)
	}
}

func (h *Hub) handleAuthenticate(c *Conn, env *proto.Envelope) {
	if h.auth == nil {
		h.sendError(c, relayError(ErrCodeUnauthorized, "authentication is not enabled"))
		return
	}
	var body proto.AuthPayload
	if err := env.DecodePayload(&body); err != nil {
		h.sendError(c, relayError(ErrCodeInvalidMessage, err.Error()))
		return
	}
	identity, err := h.auth.IdentityFromToken(body.Token)
	if err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("authenticate rejected")
		h.sendError(c, relayError(ErrCodeUnauthorized, "invalid credential"))
		return
	}
	h.Authenticate(c, *identity)
}

func (h *Hub) handleJoin(c *Conn, env *proto.Envelope) {
	var body proto.RoomPayload
	if err := env.DecodePayload(&body); err != nil {
		h.sendError(c, relayError(ErrCodeInvalidMessage, err.Error()))
		return
	}
	if body.Room == "" {
		h.sendError(c, relayError(ErrCodeBadRequest, "room is required"))
		return
	}
	if c.Identity() == nil && strings.HasPrefix(body.Room, privateRoomPrefix) {
		h.sendError(c, relayError(ErrCodeNotAuthorized, "room requires authentication"))
		return
	}

	if !h.registry.Join(c.ID, body.Room) {
		return // already a member, nothing to announce
	}

	activity, err := proto.New(proto.TypeUserActivity, proto.ActivityPayload{
		Room:   body.Room,
		User:   env.SenderID,
		Action: "joined",
	}, body.Room)
	if err != nil {
		h.log.Error().Err(err).Msg("build activity envelope")
		return
	}
	h.Broadcast(body.Room, activity, "")
}

func (h *Hub) handleLeave(c *Conn, env *proto.Envelope) {
	var body proto.RoomPayload
	if err := env.DecodePayload(&body); err != nil {
		h.sendError(c, relayError(ErrCodeInvalidMessage, err.Error()))
		return
	}
	if body.Room == "" {
		h.sendError(c, relayError(ErrCodeBadRequest, "room is required"))
		return
	}

	if !h.registry.Leave(c.ID, body.Room) {
		return // not a member, leave is idempotent
	}

	activity, err := proto.New(proto.TypeUserActivity, proto.ActivityPayload{
		Room:   body.Room,
		User:   env.SenderID,
		Action: "left",
	}, body.Room)
	if err != nil {
		h.log.Error().Err(err).Msg("build activity envelope")
		return
	}
	h.Broadcast(body.Room, activity, c.ID)
}

func (h *Hub) handleNotification(c *Conn, env *proto.Envelope) {
	var body proto.NotificationPayload
	if err := env.DecodePayload(&body); err != nil {
		h.sendError(c, relayError(ErrCodeInvalidMessage, err.Error()))
		return
	}
	if len(body.Recipients) == 0 {
		h.sendError(c, relayError(ErrCodeBadRequest, "recipients are required"))
		return
	}
	h.Notify(body.Recipients, env)
}

func (h *Hub) sendError(c *Conn, rerr *RelayError) {
	if !c.Enqueue(proto.ErrorEnvelope(rerr.Code, rerr.Message)) {
		h.log.Warn().Str("conn_id", c.ID).Str("code", rerr.Code).
			Msg("error envelope dropped, slow consumer")
	}
}
