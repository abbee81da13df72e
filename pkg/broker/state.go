package broker

import "encoding/json"

// Phase is the connection lifecycle phase.
type Phase int

const (
	// Disconnected is the initial phase and the phase after Stop.
	Disconnected Phase = iota
	// Connecting covers the initial dial and automatic reconnects.
	Connecting
	// Connected means the session is up and the topic subscribed.
	Connected
	// Failed carries a reason in State.Reason.
	Failed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// State is the connection state exposed to observers. Reason is set only
// in the Failed phase.
type State struct {
	Phase  Phase
	Reason string
}

// StateDisconnected returns the Disconnected state.
func StateDisconnected() State { return State{Phase: Disconnected} }

// StateConnecting returns the Connecting state.
func StateConnecting() State { return State{Phase: Connecting} }

// StateConnected returns the Connected state.
func StateConnected() State { return State{Phase: Connected} }

// StateError returns the Failed state with reason.
func StateError(reason string) State { return State{Phase: Failed, Reason: reason} }

// IsError reports whether the state is the error state.
func (s State) IsError() bool { return s.Phase == Failed }

// CanStart reports whether Start is accepted from this state.
func (s State) CanStart() bool {
	return s.Phase == Disconnected || s.Phase == Failed
}

// String formats the state, including the reason for errors.
func (s State) String() string {
	if s.Phase == Failed {
		return "error: " + s.Reason
	}
	return s.Phase.String()
}

type stateJSON struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// MarshalJSON encodes the state as {"state":"error","reason":"..."}.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{State: s.Phase.String(), Reason: s.Reason})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var v stateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.State {
	case "connecting":
		*s = StateConnecting()
	case "connected":
		*s = StateConnected()
	case "error":
		*s = StateError(v.Reason)
	default:
		*s = StateDisconnected()
	}
	return nil
}
