package events

import "time"

// Event type ids, one per concrete event.
const (
	TypeStatusChanged uint32 = iota + 1
	TypeTransaction
	TypeDrift
	TypeProbeFailed
)

// Event is anything the bus can carry.
type Event interface {
	Type() uint32
}

// StatusChangedEvent is published whenever the supervisor status snapshot changes.
type StatusChangedEvent struct {
	Running   bool
	Busy      bool
	Phase     string
	Engine    string
	Strategy  string
	LastError string
	Observed  map[string]bool
	Timestamp time.Time
}

func (e StatusChangedEvent) Type() uint32 { return TypeStatusChanged }

// TransactionEvent reports a finished control transaction (start, stop, switch...).
type TransactionEvent struct {
	Op       string
	Engine   string
	Strategy string
	OK       bool
	Err      string
	Duration time.Duration
}

func (e TransactionEvent) Type() uint32 { return TypeTransaction }

// DriftEvent reports that reconciliation corrected the running flag.
type DriftEvent struct {
	Engine     string
	WasRunning bool
	Alive      bool
}

func (e DriftEvent) Type() uint32 { return TypeDrift }

// ProbeFailedEvent reports a reconciliation pass that could not read the process table.
type ProbeFailedEvent struct {
	Err string
}

func (e ProbeFailedEvent) Type() uint32 { return TypeProbeFailed }

// Personal.AI order the ending
