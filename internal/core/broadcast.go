package core

import "github.com/nexbid/relay-server/internal/proto"

// Broadcast fans an envelope out to every member of the room except
// excludeID. REST producers call this directly after committing a state
// change; the WebSocket read path calls it for inbound room messages.
//
// Delivery is best effort with per-recipient isolation: one slow or dying
// recipient is logged and skipped, never aborting the remaining fan-out.
func (h *Hub) Broadcast(room string, env *proto.Envelope, excludeID string) int {
	members := h.registry.MembersOf(room)
	if len(members) == 0 {
		return 0
	}

	delivered := 0
	for _, id := range members {
		if id == excludeID {
			continue
		}
		h.mu.RLock()
		c, ok := h.conns[id]
		h.mu.RUnlock()
		if !ok {
			// Stale snapshot: the member disconnected mid-iteration.
			continue
		}
		if !c.Enqueue(env) {
			h.log.Warn().Str("conn_id", id).Str("room", room).
				Str("type", env.Type).Msg("broadcast dropped, slow consumer")
			continue
		}
		delivered++
	}
	return delivered
}

// Notify delivers an envelope directly to every connection of the named
// user identities. Unlike Broadcast this is identity-addressed unicast or
// multicast; it shares the same per-recipient failure isolation.
func (h *Hub) Notify(userIDs []string, env *proto.Envelope) int {
	delivered := 0
	for _, userID := range userIDs {
		h.mu.RLock()
		set := h.byUser[userID]
		conns := make([]*Conn, 0, len(set))
		for _, c := range set {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		for _, c := range conns {
			if !c.Enqueue(env) {
				h.log.Warn().Str("conn_id", c.ID).Str("user", userID).
					Str("type", env.Type).Msg("notification dropped, slow consumer")
				continue
			}
			delivered++
		}
	}
	return delivered
}
