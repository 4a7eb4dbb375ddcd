package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPingInterval bounds dead-connection detection at roughly twice the
// interval: one sweep to clear the flag, the next to reclaim the socket.
const DefaultPingInterval = 30 * time.Second

// Monitor runs the server side of the liveness protocol: every interval it
// terminates connections that failed to prove liveness since the previous
// sweep, clears the flag on the rest, and pings them.
type Monitor struct {
	hub      *Hub
	interval time.Duration
	log      *zerolog.Logger
}

// NewMonitor builds a monitor for the hub. A non-positive interval falls
// back to DefaultPingInterval.
func NewMonitor(hub *Hub, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Monitor{hub: hub, interval: interval, log: logger}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over the live connections. Exported so tests can
// drive the protocol without waiting on the ticker.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, c := range m.hub.Conns() {
		if !c.IsAlive() {
			m.log.Warn().Str("conn_id", c.ID).Msg("liveness expired, terminating")
			c.transport.Terminate("liveness timeout")
			continue
		}
		c.ClearAlive()
		go m.ping(ctx, c)
	}
}

func (m *Monitor) ping(ctx context.Context, c *Conn) {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval/2)
	defer cancel()

	if err := c.transport.Ping(pingCtx); err != nil {
		// Leave the flag cleared; the next sweep reclaims the connection.
		m.log.Debug().Err(err).Str("conn_id", c.ID).Msg("ping failed")
		return
	}
	c.MarkAlive()
}
