package repository

import (
	"time"

	"github.com/hray3182/medline/internal/models"
)

func encodeSlots(slots []models.TimeSlot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.String()
	}
	return out
}

func decodeSlots(raw []string) ([]models.TimeSlot, error) {
	out := make([]models.TimeSlot, 0, len(raw))
	for _, s := range raw {
		slot, err := models.ParseTimeSlot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, nil
}

func encodeWeekdays(days []time.Weekday) []int16 {
	out := make([]int16, len(days))
	for i, d := range days {
		out[i] = int16(d)
	}
	return out
}

func decodeWeekdays(raw []int16) []time.Weekday {
	if len(raw) == 0 {
		return nil
	}
	out := make([]time.Weekday, len(raw))
	for i, d := range raw {
		out[i] = time.Weekday(d)
	}
	return out
}
