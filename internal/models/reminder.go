package models

import "time"

// Reminder is what the presentation surface shows for a fired occurrence.
type Reminder struct {
	MedicationID string
	Slot         TimeSlot
	OccurrenceAt time.Time
	Name         string
	Dosage       string
	Notes        string
	Color        string
	Snoozed      bool // Delivered by a snooze alarm
}
