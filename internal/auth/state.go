package auth

import "sync"

// FlowState is the observable progress of an OAuth flow.
type FlowState string

const (
	StateIdle             FlowState = "idle"
	StateAwaitingRedirect FlowState = "awaiting_redirect"
	StateExchangingCode   FlowState = "exchanging_code"
	StateCodeRequested    FlowState = "code_requested"
	StatePolling          FlowState = "polling"
	StateAuthenticated    FlowState = "authenticated"
	StateDenied           FlowState = "denied"
	StateTimedOut         FlowState = "timed_out"
	StateFailed           FlowState = "failed"
)

type stateHolder struct {
	mu    sync.RWMutex
	state FlowState
}

func (h *stateHolder) set(s FlowState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// State returns the current flow state.
func (h *stateHolder) State() FlowState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state == "" {
		return StateIdle
	}
	return h.state
}
