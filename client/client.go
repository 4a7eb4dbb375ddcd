// Package client is the relay's connection manager: it owns exactly one
// socket at a time, exposes typed send/subscribe operations, queues sends
// attempted while offline, and recovers from unclean closes with capped
// exponential backoff. Transport failures surface as state transitions and
// events, never as panics into host code.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/nexbid/relay-server/internal/proto"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
)

// ErrConnectInProgress is returned by Connect while a previous connect call
// is still dialing.
var ErrConnectInProgress = errors.New("connect already in progress")

// Options configures a Client. URL is required; everything else defaults.
type Options struct {
	// URL is the ws:// or wss:// endpoint, without credentials.
	URL string
	// UserID and Token are passed as connection-establishment query
	// parameters; an empty Token connects anonymously.
	UserID string
	Token  string

	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	QueueLimit int

	Logger *zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = DefaultQueueLimit
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}

// Client manages one relay connection. Create with New, own it at the
// application's composition point, and pass it to consumers; there is no
// package-level instance.
type Client struct {
	opts Options
	log  *zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	gen        uint64 // connection generation; stale loop callbacks are ignored
	attempts   int
	retryTimer *time.Timer
	closing    bool

	// writeMu serializes socket writes, and is held across the queue flush
	// so sends issued during the flush keep FIFO order behind it.
	writeMu sync.Mutex

	queue *sendQueue

	nextSubID     int
	handlers      map[int]func(Event)
	stateHandlers map[int]func(StateChange)
}

// New builds a disconnected client.
func New(opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		opts:          opts,
		log:           opts.Logger,
		state:         StateDisconnected,
		queue:         newSendQueue(opts.QueueLimit),
		handlers:      make(map[int]func(Event)),
		stateHandlers: make(map[int]func(StateChange)),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen reports the number of envelopes waiting for the next connect,
// for hosts that surface a pending-send indicator.
func (c *Client) QueueLen() int { return c.queue.len() }

// QueueDropped reports how many queued envelopes were evicted oldest-first.
func (c *Client) QueueDropped() uint64 { return c.queue.droppedCount() }

// On subscribes to relay events. The returned function removes the
// subscription.
func (c *Client) On(fn func(Event)) (off func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.handlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// OnState subscribes to state transitions.
func (c *Client) OnState(fn func(StateChange)) (off func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.stateHandlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateHandlers, id)
		c.mu.Unlock()
	}
}

// Connect opens the socket. Idempotent while connected. A pending automatic
// reconnection is superseded: the timer is cancelled and the attempt counter
// reset. The attempt fails if the transport does not open within
// ConnectTimeout; the half-open socket is closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.cancelRetryLocked()
	c.attempts = 0
	c.closing = false
	from := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.emitState(from, StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		prev := c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		c.emitState(prev, StateDisconnected)
		return fmt.Errorf("connect %s: %w", c.opts.URL, err)
	}

	c.onOpen(conn)
	return nil
}

// Disconnect closes the socket cleanly: no retry is scheduled and the
// offline queue is discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.cancelRetryLocked()
	c.attempts = 0
	c.queue.clear()
	conn := c.conn
	c.conn = nil
	from := c.state
	changed := from != StateDisconnected
	c.transitionLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if changed {
		c.emitState(from, StateDisconnected)
	}
}

// Send transmits a typed envelope, or queues it when not connected. Queued
// envelopes are flushed FIFO on the next successful connect.
func (c *Client) Send(msgType string, payload any, targetRoom string) error {
	env, err := proto.New(msgType, payload, targetRoom)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		if c.queue.push(env) {
			c.log.Warn().Str("type", msgType).Msg("offline queue full, oldest envelope dropped")
		}
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.write(conn, env)
}

func (c *Client) endpoint() string {
	q := url.Values{}
	if c.opts.UserID != "" {
		q.Set("user", c.opts.UserID)
	}
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	if len(q) == 0 {
		return c.opts.URL
	}
	return c.opts.URL + "?" + q.Encode()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, c.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// onOpen installs a freshly opened socket: state becomes Connected, the
// attempt counter resets, the queue flushes FIFO, and the read and
// heartbeat loops start. writeMu is taken before the state flips so sends
// racing the flush order behind it.
func (c *Client) onOpen(conn *websocket.Conn) {
	c.writeMu.Lock()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.writeMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0
	pending := c.queue.drain()
	from := c.transitionLocked(StateConnected)
	c.mu.Unlock()

	for i, env := range pending {
		if err := c.writeLocked(conn, env); err != nil {
			c.log.Warn().Err(err).Str("type", env.Type).Msg("queue flush interrupted")
			// The failed envelope had its attempt; the rest have not and
			// go back for the next connect.
			c.queue.requeue(pending[i+1:])
			break
		}
	}
	c.writeMu.Unlock()

	c.emitState(from, StateConnected)

	go c.readLoop(gen, conn)
	go c.heartbeatLoop(gen, conn)
}

func (c *Client) write(conn *websocket.Conn, env *proto.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(conn, env)
}

func (c *Client) writeLocked(conn *websocket.Conn, env *proto.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		env, derr := proto.Decode(data)
		if derr != nil {
			c.log.Warn().Err(derr).Msg("malformed inbound frame")
			c.emit(ParseErrorEvent{Err: derr})
			continue
		}

		if ev, ok := eventFromEnvelope(env); ok {
			c.emit(ev)
		}
	}
}

// heartbeatLoop exercises the read path on a fixed interval so half-open
// sockets surface before any TCP-level timeout would notice.
func (c *Client) heartbeatLoop(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.gen != gen || c.state != StateConnected
		c.mu.Unlock()
		if stale {
			return
		}

		env, err := proto.New(proto.TypeHeartbeat, nil, "")
		if err != nil {
			return
		}
		if err := c.write(conn, env); err != nil {
			// The read loop observes the same failure and drives recovery.
			return
		}
	}
}

// handleClose runs when the read loop exits. Clean closes were already
// handled by Disconnect; unclean ones hand off to the reconnection path.
func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.closing {
		c.mu.Unlock()
		return
	}

	c.log.Warn().Err(err).Msg("connection closed uncleanly")
	from := c.transitionLocked(StateReconnecting)
	c.mu.Unlock()
	c.emitState(from, StateReconnecting)

	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the single pending retry timer, or gives up
// when attempts are exhausted. Caller holds mu.
func (c *Client) scheduleReconnectLocked() {
	c.attempts++
	attempt := c.attempts
	if attempt > c.opts.MaxAttempts {
		from := c.transitionLocked(StateDisconnected)
		exhausted := c.opts.MaxAttempts
		// Emit outside the lock.
		go func() {
			c.emitState(from, StateDisconnected)
			c.emit(ReconnectsExhaustedEvent{Attempts: exhausted})
		}()
		return
	}

	delay := backoffDelay(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")

	c.cancelRetryLocked()
	c.retryTimer = time.AfterFunc(delay, c.attemptReconnect)
}

func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.dial(context.Background())
	if err != nil {
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.log.Warn().Err(err).Int("attempt", c.attempts).Msg("reconnect attempt failed")
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	// Cancelling the retry timer cannot stop a dial already in flight. A
	// Disconnect or an explicit Connect that landed during the dial owns the
	// lifecycle now; the late socket must not be installed over it.
	c.mu.Lock()
	superseded := c.closing || c.state != StateReconnecting || c.gen != gen
	c.mu.Unlock()
	if superseded {
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}

	c.onOpen(conn)
}

func (c *Client) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// transitionLocked flips the state and returns the previous one. Caller
// holds mu and emits after unlocking.
func (c *Client) transitionLocked(to State) State {
	from := c.state
	c.state = to
	return from
}

func (c *Client) emitState(from, to State) {
	if from == to {
		return
	}
	c.mu.Lock()
	fns := make([]func(StateChange), 0, len(c.stateHandlers))
	for _, fn := range c.stateHandlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	change := StateChange{From: from, To: to}
	for _, fn := range fns {
		fn(change)
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.handlers))
	for _, fn := range c.handlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
