package stream

import "sync/atomic"

// State is one node of the stream lifecycle state machine (§4.4, component
// C4). Transitions are monotonic within a session: STOPPED -> ACTIVE ->
// (STOPPING | CALLBACK_STOPPED) -> STOPPED.
type State int32

const (
	Stopped State = iota
	Active
	Stopping
	CallbackStopped
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Active:
		return "ACTIVE"
	case Stopping:
		return "STOPPING"
	case CallbackStopped:
		return "CALLBACK_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// stateBox is an atomic-backed State cell. The realtime callback may write
// CallbackStopped from the platform's audio thread (§5 "state transitions
// are monotonic... Requires atomic load/store"); every other writer is the
// control thread.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

// compareAndSwap is used by the realtime callback to claim the
// Active->CallbackStopped transition exactly once even if both bus
// callbacks observe a Complete/Abort result in the same audio cycle.
func (b *stateBox) compareAndSwap(old, new_ State) bool {
	return b.v.CompareAndSwap(int32(old), int32(new_))
}
