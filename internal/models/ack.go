package models

import "time"

type AckState string

const (
	AckPending   AckState = "pending"
	AckSnoozed   AckState = "snoozed"
	AckTaken     AckState = "taken"
	AckDismissed AckState = "dismissed"
)

// rank orders states so transitions only move forward.
func (s AckState) rank() int {
	switch s {
	case AckPending:
		return 0
	case AckSnoozed:
		return 1
	case AckTaken, AckDismissed:
		return 2
	default:
		return -1
	}
}

func (s AckState) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further writes are accepted.
func (s AckState) Terminal() bool {
	return s == AckTaken || s == AckDismissed
}

// Responded reports whether the user has acted on the occurrence.
func (s AckState) Responded() bool {
	return s.rank() > 0
}

// CanTransition reports whether a record in state s may be overwritten with next.
// Pending to pending is allowed so that a duplicate firing is a no-op.
func (s AckState) CanTransition(next AckState) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if s == AckPending && next == AckPending {
		return true
	}
	return next.rank() > s.rank()
}

// AckRecord is the user's response to one fired occurrence.
type AckRecord struct {
	MedicationID string    `json:"medication_id"`
	Slot         TimeSlot  `json:"slot"`
	OccurrenceAt time.Time `json:"occurrence_at"`
	State        AckState  `json:"state"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Counts aggregates ack records for statistics views.
type Counts struct {
	Taken     int `json:"taken"`
	Snoozed   int `json:"snoozed"`
	Dismissed int `json:"dismissed"`
	Pending   int `json:"pending"`
	Missed    int `json:"missed"`
}

func (c Counts) Total() int {
	return c.Taken + c.Snoozed + c.Dismissed + c.Pending + c.Missed
}
