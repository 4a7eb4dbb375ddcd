package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexbid/relay-server/client"
	"github.com/nexbid/relay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_probe: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "relay WebSocket address")
	token := flag.String("token", "", "JWT to authenticate with (empty for anonymous)")
	user := flag.String("user", "probe", "user id query hint")
	room := flag.String("room", "rfq-demo", "room to join")
	text := flag.String("text", "hello from ws_probe", "collaboration message to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	c := client.New(client.Options{
		URL:    *addr,
		UserID: *user,
		Token:  *token,
	})
	defer c.Disconnect()

	c.OnState(func(sc client.StateChange) {
		fmt.Printf("state: %s -> %s\n", sc.From, sc.To)
	})
	c.On(func(ev client.Event) {
		switch e := ev.(type) {
		case client.CollaborationEvent:
			fmt.Printf("collab room=%s sender=%s payload=%s\n", e.Room, e.Sender, e.Payload)
		case client.PresenceEvent:
			fmt.Printf("presence room=%s payload=%s\n", e.Room, e.Payload)
		case client.ServerErrorEvent:
			fmt.Printf("server error code=%s message=%s\n", e.Code, e.Message)
		case client.ReconnectsExhaustedEvent:
			fmt.Printf("reconnects exhausted after %d attempts\n", e.Attempts)
			cancel()
		default:
			fmt.Printf("event %T: %+v\n", e, e)
		}
	})

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.Send(proto.TypeJoinRoom, proto.RoomPayload{Room: *room}, ""); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := c.Send(proto.TypeCollaboration, map[string]string{"text": *text}, *room); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	<-ctx.Done()
	return nil
}
