package session

// State tracks the supervisor's restart loop.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	default:
		return "idle"
	}
}
