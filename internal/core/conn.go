package core

import (
	"context"
	"sync"

	"github.com/nexbid/relay-server/internal/proto"
)

// outboundBuffer is the per-connection envelope buffer drained by the
// transport's write loop. A full buffer means a slow consumer; the envelope
// is dropped rather than stalling the fan-out.
const outboundBuffer = 64

// Transport is the socket-facing side of a connection. The hub never touches
// the socket itself: it enqueues envelopes, and the liveness monitor pings
// and terminates through this interface.
type Transport interface {
	// Ping blocks until the peer answers or ctx expires.
	Ping(ctx context.Context) error
	// Terminate force-closes the socket. The transport's loops observe the
	// closure and run the normal unregister path.
	Terminate(reason string)
}

// Identity is the authenticated principal behind a connection. Connections
// may carry no identity at all; those are restricted to unauthenticated rooms.
type Identity struct {
	UserID string
	Name   string
	Role   string // "user", "guest" or "agent"
}

// Agent reports whether this identity is an automated agent whose presence
// changes are announced to the presence room.
func (id Identity) Agent() bool { return id.Role == "agent" }

// Conn is a live connection as seen by the core layer.
type Conn struct {
	ID        string
	transport Transport
	out       chan *proto.Envelope

	mu       sync.Mutex
	identity *Identity
	alive    bool
}

// NewConn wraps an accepted socket. The connection starts alive and anonymous.
func NewConn(id string, t Transport) *Conn {
	return &Conn{
		ID:        id,
		transport: t,
		out:       make(chan *proto.Envelope, outboundBuffer),
		alive:     true,
	}
}

// Out is drained by the transport's write loop.
func (c *Conn) Out() <-chan *proto.Envelope { return c.out }

// Enqueue hands an envelope to the write loop. Returns false when the buffer
// is full and the envelope was dropped.
func (c *Conn) Enqueue(env *proto.Envelope) bool {
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}

// Identity returns the authenticated identity, or nil for anonymous connections.
func (c *Conn) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setIdentity(id Identity) {
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
}

// IsAlive reports whether the peer has proven liveness since the last sweep.
func (c *Conn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// MarkAlive is called on pong receipt and on any application heartbeat.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// ClearAlive arms the next sweep: the peer must pong before it runs again.
func (c *Conn) ClearAlive() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}
