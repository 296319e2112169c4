package daemon

// State is a lifecycle controller state.
type State int32

const (
	StateInit State = iota
	StateLocked
	StateSocketsBound
	StateRunning
	StateRotating
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLocked:
		return "LOCKED"
	case StateSocketsBound:
		return "SOCKETS_BOUND"
	case StateRunning:
		return "RUNNING"
	case StateRotating:
		return "ROTATING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Request is an asynchronous instruction for the controller goroutine.
type Request int

const (
	RequestRotate Request = iota + 1
	RequestShutdown
)

func (r Request) String() string {
	switch r {
	case RequestRotate:
		return "rotate"
	case RequestShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
