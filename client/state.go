package client

// State is the connection lifecycle state machine. Transitions:
//
//	Disconnected -> Connecting    explicit Connect
//	Connecting   -> Connected     transport open
//	Connecting   -> Disconnected  dial failure or timeout
//	Connected    -> Disconnected  explicit Disconnect, no retry
//	Connected    -> Reconnecting  unclean close with attempts remaining
//	Reconnecting -> Connected     a retry succeeded
//	Reconnecting -> Disconnected  attempts exhausted or explicit Disconnect
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange describes one observed transition.
type StateChange struct {
	From State
	To   State
}
