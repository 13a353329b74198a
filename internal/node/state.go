package node

import "sync/atomic"

// NodeState represents where the node is in its serving lifecycle.
type NodeState int32

const (
	// StateStarting is the initial state; storage and the ledger are loading.
	StateStarting NodeState = iota
	// StateServing means the REST API accepts requests.
	StateServing
	// StateDraining is a transient state while in-flight requests finish.
	StateDraining
	// StateStopped means the node has released its storage.
	StateStopped
)

// IsReady returns true when the node accepts ledger operations.
func (s NodeState) IsReady() bool {
	return s == StateServing
}

func (s NodeState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateHolder struct{ v atomic.Int32 }

func (h *stateHolder) load() NodeState { return NodeState(h.v.Load()) }

func (h *stateHolder) store(s NodeState) { h.v.Store(int32(s)) }
