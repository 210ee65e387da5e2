package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/format"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/rrule"
)

// FormatReminder renders the message shown when a dose is due.
func FormatReminder(r models.Reminder, loc *time.Location) string {
	var sb strings.Builder
	if r.Snoozed {
		sb.WriteString("⏰ **再次提醒服藥**\n\n")
	} else {
		sb.WriteString("💊 **服藥時間到了**\n\n")
	}
	sb.WriteString(fmt.Sprintf("**%s**", format.Escape(r.Name)))
	if r.Dosage != "" {
		sb.WriteString(" " + format.Escape(r.Dosage))
	}
	sb.WriteString(fmt.Sprintf("\n🕐 `%s`", r.OccurrenceAt.In(loc).Format("2006-01-02 15:04")))
	if r.Notes != "" {
		sb.WriteString("\n📝 _" + format.Escape(r.Notes) + "_")
	}
	return sb.String()
}

var statusIcons = map[engine.DoseStatus]string{
	engine.DoseTaken:     "✅",
	engine.DoseSnoozed:   "⏰",
	engine.DoseDismissed: "⏭",
	engine.DosePending:   "🔔",
	engine.DoseMissed:    "❌",
	engine.DoseUpcoming:  "⏳",
}

// FormatSummary renders the daily summary.
func FormatSummary(s *engine.Summary, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 **%s 服藥總結**\n\n", s.Date.In(loc).Format("2006-01-02")))
	if len(s.Items) == 0 {
		sb.WriteString("今天沒有排定的服藥")
		return sb.String()
	}
	for _, it := range s.Items {
		sb.WriteString(fmt.Sprintf("%s `%s` %s", statusIcons[it.Dose.Status],
			it.Dose.Occurrence.At.In(loc).Format("15:04"), format.Escape(it.Name)))
		if it.Dosage != "" {
			sb.WriteString(" " + format.Escape(it.Dosage))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\n✅ 已服用 %d ｜ ❌ 未服用 %d ｜ ⏳ 待服用 %d",
		s.Count(engine.DoseTaken),
		s.Count(engine.DoseMissed),
		s.Count(engine.DoseUpcoming)+s.Count(engine.DosePending)))
	return sb.String()
}

// formatMedication renders one line group of the /meds list.
func formatMedication(index int, med *models.Medication, alarms []models.PendingAlarm, loc *time.Location) string {
	status := "✅"
	if !med.Active {
		status = "⏸"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s **%d.** %s", status, index, format.Escape(med.Name)))
	if med.Dosage != "" {
		sb.WriteString(" " + format.Escape(med.Dosage))
	}
	sb.WriteString("\n   📅 " + rrule.Describe(med, loc))
	if next := earliest(alarms); next != nil {
		sb.WriteString(fmt.Sprintf("\n   ⏰ 下次提醒 `%s`", next.ArmedAt.In(loc).Format("01-02 15:04")))
	}
	return sb.String()
}

func earliest(alarms []models.PendingAlarm) *models.PendingAlarm {
	var out *models.PendingAlarm
	for i := range alarms {
		if out == nil || alarms[i].ArmedAt.Before(out.ArmedAt) {
			out = &alarms[i]
		}
	}
	return out
}

func formatCounts(c models.Counts) string {
	return fmt.Sprintf("✅ 已服用: %d\n⏰ 稍後提醒: %d\n⏭ 略過: %d\n❌ 未服用: %d\n🔔 待回應: %d",
		c.Taken, c.Snoozed, c.Dismissed, c.Missed, c.Pending)
}
