package core

import (
	"encoding/json"
	"testing"

	"github.com/nexbid/relay-server/internal/proto"
)

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil, testLogger())

	alice := newTestConn("a")
	bob := newTestConn("b")
	hub.Register(alice)
	hub.Register(bob)
	hub.Authenticate(alice, Identity{UserID: "alice", Role: "user"})
	hub.Authenticate(bob, Identity{UserID: "bob", Role: "user"})

	join(t, hub, alice, "rfq-42")
	join(t, hub, bob, "rfq-42")

	update, _ := proto.New(proto.TypeRFQUpdate, map[string]string{"status": "awarded"}, "rfq-42")
	hub.HandleEnvelope(alice, update)

	got := mustEnvelope(t, bob, proto.TypeRFQUpdate)
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(got.Payload, &body); err != nil || body.Status != "awarded" {
		t.Fatalf("unexpected payload: %s (%v)", got.Payload, err)
	}
	if got.SenderID != "alice" {
		t.Fatalf("relay must stamp the sender, got %q", got.SenderID)
	}

	mustNoEnvelope(t, alice, proto.TypeRFQUpdate)
}

func TestHubStampsSenderFromConnectionNotWire(t *testing.T) {
	hub := NewHub(nil, testLogger())

	alice := newTestConn("a")
	bob := newTestConn("b")
	hub.Register(alice)
	hub.Register(bob)
	hub.Authenticate(alice, Identity{UserID: "alice", Role: "user"})

	join(t, hub, alice, "rfq-1")
	join(t, hub, bob, "rfq-1")

	forged, _ := proto.New(proto.TypeCollaboration, map[string]string{"text": "hi"}, "rfq-1")
	forged.SenderID = "mallory"
	hub.HandleEnvelope(alice, forged)

	got := mustEnvelope(t, bob, proto.TypeCollaboration)
	if got.SenderID != "alice" {
		t.Fatalf("forged sender survived the relay: %q", got.SenderID)
	}
}

func TestHubRoomRequiredForFanOutTypes(t *testing.T) {
	hub := NewHub(nil, testLogger())
	alice := newTestConn("a")
	hub.Register(alice)

	orphan, _ := proto.New(proto.TypeRFQUpdate, map[string]string{"status": "open"}, "")
	hub.HandleEnvelope(alice, orphan)

	errEnv := mustEnvelope(t, alice, proto.TypeError)
	var body proto.ErrorPayload
	if err := errEnv.DecodePayload(&body); err != nil || body.Code != ErrCodeRoomRequired {
		t.Fatalf("expected %s error, got %+v (%v)", ErrCodeRoomRequired, body, err)
	}
}

func TestHubMismatchedPayloadReportsInvalidMessage(t *testing.T) {
	hub := NewHub(nil, testLogger())
	alice := newTestConn("a")
	hub.Register(alice)

	// Well-formed envelope, but the payload is not a join body.
	bad, _ := proto.New(proto.TypeJoinRoom, []int{1, 2, 3}, "")
	hub.HandleEnvelope(alice, bad)

	errEnv := mustEnvelope(t, alice, proto.TypeError)
	var body proto.ErrorPayload
	if err := errEnv.DecodePayload(&body); err != nil || body.Code != ErrCodeInvalidMessage {
		t.Fatalf("expected %s error, got %+v (%v)", ErrCodeInvalidMessage, body, err)
	}
	if rooms := hub.Registry().Subscriptions(alice.ID); len(rooms) != 0 {
		t.Fatalf("mismatched payload must not join anything, got %v", rooms)
	}
}

func TestHubUnknownTypeWithRoomIsRelayed(t *testing.T) {
	hub := NewHub(nil, testLogger())

	alice := newTestConn("a")
	bob := newTestConn("b")
	hub.Register(alice)
	hub.Register(bob)

	join(t, hub, alice, "rfq-9")
	join(t, hub, bob, "rfq-9")

	future, _ := proto.New("hologram_update", map[string]int{"v": 2}, "rfq-9")
	hub.HandleEnvelope(alice, future)

	if got := mustEnvelope(t, bob, "hologram_update"); got.TargetRoom != "rfq-9" {
		t.Fatalf("unknown type mangled in transit: %+v", got)
	}
}

func TestHubHeartbeatAnsweredAndMarksAlive(t *testing.T) {
	hub := NewHub(nil, testLogger())
	alice := newTestConn("a")
	hub.Register(alice)
	alice.ClearAlive()

	hb, _ := proto.New(proto.TypeHeartbeat, nil, "")
	hub.HandleEnvelope(alice, hb)

	mustEnvelope(t, alice, proto.TypeHeartbeatAck)
	if !alice.IsAlive() {
		t.Fatal("heartbeat must count as proof of liveness")
	}
}

func TestHubNotificationTargetsIdentities(t *testing.T) {
	hub := NewHub(nil, testLogger())

	sender := newTestConn("s")
	target1 := newTestConn("t1")
	target2 := newTestConn("t2")
	bystander := newTestConn("x")
	for _, c := range []*Conn{sender, target1, target2, bystander} {
		hub.Register(c)
	}
	hub.Authenticate(sender, Identity{UserID: "ops", Role: "user"})
	hub.Authenticate(target1, Identity{UserID: "carol", Role: "user"})
	hub.Authenticate(target2, Identity{UserID: "carol", Role: "user"}) // second tab
	hub.Authenticate(bystander, Identity{UserID: "dave", Role: "user"})

	note, _ := proto.New(proto.TypeNotification, proto.NotificationPayload{
		Recipients: []string{"carol"},
		Title:      "RFQ awarded",
	}, "")
	hub.HandleEnvelope(sender, note)

	mustEnvelope(t, target1, proto.TypeNotification)
	mustEnvelope(t, target2, proto.TypeNotification)
	mustNoEnvelope(t, bystander, proto.TypeNotification)
}

func TestHubAnonymousCannotJoinPrivateRoom(t *testing.T) {
	hub := NewHub(nil, testLogger())
	anon := newTestConn("anon")
	hub.Register(anon)

	env, _ := proto.New(proto.TypeJoinRoom, proto.RoomPayload{Room: "private:deals"}, "")
	hub.HandleEnvelope(anon, env)

	errEnv := mustEnvelope(t, anon, proto.TypeError)
	var body proto.ErrorPayload
	if err := errEnv.DecodePayload(&body); err != nil || body.Code != ErrCodeNotAuthorized {
		t.Fatalf("expected %s error, got %+v (%v)", ErrCodeNotAuthorized, body, err)
	}
	if members := hub.Registry().MembersOf("private:deals"); members != nil {
		t.Fatalf("anonymous connection admitted to private room: %v", members)
	}
}

func TestHubUnregisterCleansRoomsAndAnnouncesAgent(t *testing.T) {
	hub := NewHub(nil, testLogger())

	agent := newTestConn("agent-1")
	watcher := newTestConn("w")
	hub.Register(agent)
	hub.Register(watcher)
	hub.Authenticate(watcher, Identity{UserID: "ops", Role: "user"})
	join(t, hub, watcher, proto.PresenceRoom)

	hub.Authenticate(agent, Identity{UserID: "pricing-bot", Role: "agent"})
	online := mustEnvelope(t, watcher, proto.TypePresenceUpdate)
	var onBody proto.PresencePayload
	if err := online.DecodePayload(&onBody); err != nil || onBody.Status != "online" || onBody.User != "pricing-bot" {
		t.Fatalf("unexpected online presence: %+v (%v)", onBody, err)
	}

	join(t, hub, agent, "rfq-1")
	join(t, hub, agent, "rfq-2")

	hub.Unregister(agent)

	for _, room := range []string{"rfq-1", "rfq-2"} {
		if got := hub.Registry().MembersOf(room); got != nil {
			t.Fatalf("room %s retains dropped connection: %v", room, got)
		}
	}

	offline := mustEnvelope(t, watcher, proto.TypePresenceUpdate)
	var offBody proto.PresencePayload
	if err := offline.DecodePayload(&offBody); err != nil || offBody.Status != "offline" || offBody.User != "pricing-bot" {
		t.Fatalf("unexpected offline presence: %+v (%v)", offBody, err)
	}

	// Unregister is safe to repeat.
	hub.Unregister(agent)
}

func TestHubStats(t *testing.T) {
	hub := NewHub(nil, testLogger())
	a := newTestConn("a")
	b := newTestConn("b")
	hub.Register(a)
	hub.Register(b)
	join(t, hub, a, "rfq-1")

	stats := hub.Stats()
	if stats.Connections != 2 || stats.Rooms != 1 || stats.Timestamp.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
