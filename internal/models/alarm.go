package models

import "time"

// PendingAlarm is the wake-up currently held by the platform timer for one
// (medication, slot) pair.
type PendingAlarm struct {
	MedicationID string    `json:"medication_id"`
	Slot         TimeSlot  `json:"slot"`
	ArmedAt      time.Time `json:"armed_at"`      // When the timer fires
	OccurrenceAt time.Time `json:"occurrence_at"` // Occurrence the firing delivers
	Snooze       bool      `json:"snooze"`
	CreatedAt    time.Time `json:"created_at"`
}

// TimerID is the identifier the alarm is armed under.
func (a *PendingAlarm) TimerID() string {
	return AlarmTimerID(a.MedicationID, a.Slot)
}

// Payload returns what the timer hands back when the alarm fires.
func (a *PendingAlarm) Payload() FirePayload {
	return FirePayload{
		MedicationID: a.MedicationID,
		Slot:         a.Slot,
		OccurrenceAt: a.OccurrenceAt,
		Snooze:       a.Snooze,
	}
}

func AlarmTimerID(medicationID string, slot TimeSlot) string {
	return medicationID + "/" + slot.String()
}

// FirePayload is delivered by the platform timer at the armed instant.
type FirePayload struct {
	MedicationID string    `json:"medication_id"`
	Slot         TimeSlot  `json:"slot"`
	OccurrenceAt time.Time `json:"occurrence_at"`
	Snooze       bool      `json:"snooze"`
}
