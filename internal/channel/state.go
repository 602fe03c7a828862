package channel

import "fmt"

// State is the lifecycle state of the event channel.
type State uint8

// Channel states. ReconnectScheduled means the connection is down and exactly
// one timer is armed to dial again.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

var stateNames = [...]string{
	StateDisconnected:       "disconnected",
	StateConnecting:         "connecting",
	StateConnected:          "connected",
	StateReconnectScheduled: "reconnect_scheduled",
}

// AllStates lists every state in declaration order.
func AllStates() []string {
	return stateNames[:]
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
