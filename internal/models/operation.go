package models

import "fmt"

// OperationKind is what the sync cycle should do with one event.
type OperationKind int

const (
	OpCreate OperationKind = iota
	OpUpdate
	OpSkip
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpSkip:
		return "skip"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// ReasonNoChange is the skip reason for events that are already in sync.
const ReasonNoChange = "no change"

// Operation is one decision computed by the reconciler or the placeholder matcher.
type Operation struct {
	Kind      OperationKind
	UID       string
	Event     *Event   // Record to write or delete; the source event for skips
	Fields    []string // Changed field names, set for updates
	Reason    string   // Set for skips
	Ambiguous bool     // Skip caused by an ambiguous match
}

// Create returns an operation adding ev to the destination.
func Create(ev *Event) Operation {
	return Operation{Kind: OpCreate, UID: ev.UID, Event: ev}
}

// Update returns an operation writing the merged record back to the destination.
func Update(merged *Event, fields []string) Operation {
	return Operation{Kind: OpUpdate, UID: merged.UID, Event: merged, Fields: fields}
}

// Skip returns an operation that leaves the destination untouched.
func Skip(ev *Event, reason string) Operation {
	return Operation{Kind: OpSkip, UID: ev.UID, Event: ev, Reason: reason}
}

// Ambiguous returns a skip caused by an ambiguous match.
func Ambiguous(ev *Event, reason string) Operation {
	op := Skip(ev, reason)
	op.Ambiguous = true
	return op
}

// Delete returns an operation removing ev from the destination.
func Delete(ev *Event) Operation {
	return Operation{Kind: OpDelete, UID: ev.UID, Event: ev}
}
