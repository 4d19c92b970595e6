package conversation

type State int32

const (
	StateCreated State = iota
	StateAwaitingStart
	StateActive
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
