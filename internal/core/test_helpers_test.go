package core

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexbid/relay-server/internal/proto"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// fakeTransport records terminations and lets tests fail pings on demand.
type fakeTransport struct {
	pingErr    error
	terminated chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{terminated: make(chan string, 1)}
}

func (f *fakeTransport) Ping(context.Context) error { return f.pingErr }

func (f *fakeTransport) Terminate(reason string) {
	select {
	case f.terminated <- reason:
	default:
	}
}

func newTestConn(id string) *Conn {
	return NewConn(id, newFakeTransport())
}

func mustEnvelope(t *testing.T, c *Conn, msgType string) *proto.Envelope {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Out():
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("expected %s envelope for conn %s, none received", msgType, c.ID)
			return nil
		}
	}
}

func mustNoEnvelope(t *testing.T, c *Conn, msgType string) {
	t.Helper()

	for {
		select {
		case env := <-c.Out():
			if env.Type == msgType {
				t.Fatalf("conn %s received unexpected %s envelope", c.ID, msgType)
			}
		default:
			return
		}
	}
}

func join(t *testing.T, h *Hub, c *Conn, room string) {
	t.Helper()

	env, err := proto.New(proto.TypeJoinRoom, proto.RoomPayload{Room: room}, "")
	if err != nil {
		t.Fatalf("build join envelope: %v", err)
	}
	h.HandleEnvelope(c, env)
}
