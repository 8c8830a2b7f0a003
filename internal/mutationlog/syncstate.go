package mutationlog

import "sync"

// Phase is one state of the sync state machine.
type Phase string

const (
	PhaseInitial       Phase = "initial"
	PhaseGettingLatest Phase = "gettingLatest"
	PhaseSynced        Phase = "synced"
	PhaseSyncing       Phase = "syncing"
)

// SyncState tracks the client's overall sync lifecycle: initial ->
// gettingLatest (bulk pull in progress) -> synced <-> syncing (steady
// state push/pull cycling). WaitForSync blocks callers until the state
// is "synced".
type SyncState struct {
	mu    sync.Mutex
	phase Phase
	cond  *sync.Cond
}

// NewSyncState returns a SyncState in PhaseInitial.
func NewSyncState() *SyncState {
	s := &SyncState{phase: PhaseInitial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Phase returns the current phase.
func (s *SyncState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Transition moves to the given phase and wakes any WaitForSync callers.
func (s *SyncState) Transition(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.cond.Broadcast()
}

// WaitForSync blocks until the phase is Synced, returning at once if it
// already is.
func (s *SyncState) WaitForSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.phase != PhaseSynced {
		s.cond.Wait()
	}
}
