package download

import "fmt"

// State is a step of the download sequence.
type State int

const (
	StateIdle State = iota
	StateAwaitDevice1
	StateHandshakeSent1
	StateAwaitDevice2
	StateHeaderSent
	StateFlagSent1
	StateAwaitDevice3
	StateHandshakeSent2
	StatePayloadSent
	StateFlagSent2
	StateDone
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateAwaitDevice1:   "await-device(1)",
	StateHandshakeSent1: "handshake-sent(1)",
	StateAwaitDevice2:   "await-device(2)",
	StateHeaderSent:     "header-sent",
	StateFlagSent1:      "flag-sent(1)",
	StateAwaitDevice3:   "await-device(3)",
	StateHandshakeSent2: "handshake-sent(2)",
	StatePayloadSent:    "payload-sent",
	StateFlagSent2:      "flag-sent(2)",
	StateDone:           "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PhaseError reports the step that failed and why. The run cannot be resumed.
type PhaseError struct {
	State State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Progress describes the transfer position after one exchange.
type Progress struct {
	State  State
	Chunk  int
	Chunks int
	Bytes  int
	Total  int
}
