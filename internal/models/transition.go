package models

import "time"

// Transition describes one status change applied as a single logical unit:
// a conditional update guarded on the expected current status plus the
// tracking event appended alongside it. Stores reject the whole unit with
// ErrConflict when the guard fails, which is what makes duplicate timer
// firings and cancel races safe.
type Transition struct {
	OrderID string
	From    string
	To      string
	Event   TrackingEvent

	// Optional fields written together with the status change. AgentID is
	// the registry row backing the snapshot, empty for synthesized agents;
	// it is kept server-side so terminal transitions can release the agent.
	Agent         *AgentSnapshot
	AgentID       *string
	ETA           *time.Time
	MarkPaid      bool
	MarkDelivered bool

	// NextTransitionAt persists when the following timed transition is due,
	// so a restarted process can recover pending timers. ClearNext wipes it
	// on terminal transitions.
	NextTransitionAt *time.Time
	ClearNext        bool
}
