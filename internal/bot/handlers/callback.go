package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/models"
	"go.uber.org/zap"
)

const ackPrefix = "ack:"

// AckAction is the button pressed on a reminder. Codes are one letter to
// stay inside Telegram's 64 byte callback data limit.
type AckAction string

const (
	ActionTaken   AckAction = "t"
	ActionSnooze  AckAction = "s"
	ActionDismiss AckAction = "d"
)

// AckCallback is the payload of a reminder button:
// ack:<action>:<medicationID>:<HHMM>:<unix>[:<minutes>]
type AckCallback struct {
	Action       AckAction
	MedicationID string
	Slot         models.TimeSlot
	OccurrenceAt time.Time
	Minutes      int // Snooze only; 0 uses the default
}

func (c AckCallback) Data() string {
	data := fmt.Sprintf("%s%s:%s:%s:%d", ackPrefix, c.Action, c.MedicationID, c.Slot.Compact(), c.OccurrenceAt.Unix())
	if c.Action == ActionSnooze && c.Minutes > 0 {
		data += ":" + strconv.Itoa(c.Minutes)
	}
	return data
}

var errBadCallback = errors.New("malformed callback data")

func ParseAckCallback(data string, loc *time.Location) (AckCallback, error) {
	var cb AckCallback
	if !strings.HasPrefix(data, ackPrefix) {
		return cb, errBadCallback
	}
	parts := strings.Split(strings.TrimPrefix(data, ackPrefix), ":")
	if len(parts) != 4 && len(parts) != 5 {
		return cb, errBadCallback
	}

	cb.Action = AckAction(parts[0])
	switch cb.Action {
	case ActionTaken, ActionDismiss:
		if len(parts) != 4 {
			return cb, errBadCallback
		}
	case ActionSnooze:
	default:
		return cb, fmt.Errorf("%w: unknown action %q", errBadCallback, parts[0])
	}

	cb.MedicationID = parts[1]
	if cb.MedicationID == "" {
		return cb, errBadCallback
	}

	slot, err := models.ParseCompactTimeSlot(parts[2])
	if err != nil {
		return cb, fmt.Errorf("%w: %v", errBadCallback, err)
	}
	cb.Slot = slot

	unix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return cb, fmt.Errorf("%w: %v", errBadCallback, err)
	}
	cb.OccurrenceAt = time.Unix(unix, 0).In(loc)

	if len(parts) == 5 {
		cb.Minutes, err = strconv.Atoi(parts[4])
		if err != nil || cb.Minutes <= 0 {
			return cb, fmt.Errorf("%w: bad snooze minutes %q", errBadCallback, parts[4])
		}
	}
	return cb, nil
}

// ReminderKeyboard builds the Taken / Snooze / Dismiss buttons for a reminder.
func ReminderKeyboard(r models.Reminder, snooze time.Duration) tgbotapi.InlineKeyboardMarkup {
	base := AckCallback{MedicationID: r.MedicationID, Slot: r.Slot, OccurrenceAt: r.OccurrenceAt}
	with := func(action AckAction, minutes int) string {
		cb := base
		cb.Action = action
		cb.Minutes = minutes
		return cb.Data()
	}

	minutes := int(snooze / time.Minute)
	if minutes <= 0 {
		minutes = 5
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ 已服用", with(ActionTaken, 0)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⏰ %d 分鐘後", minutes), with(ActionSnooze, minutes)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏰ 30 分鐘後", with(ActionSnooze, 30)),
			tgbotapi.NewInlineKeyboardButtonData("⏭ 略過", with(ActionDismiss, 0)),
		),
	)
}

func (h *Handlers) handleAckCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	loc := h.engine.Location()
	cb, err := ParseAckCallback(callback.Data, loc)
	if err != nil {
		h.logger.Warn("Ignoring callback", zap.String("data", callback.Data), zap.Error(err))
		h.answerCallbackWithAlert(callback.ID, "❌ 無效的操作")
		return
	}

	var result string
	switch cb.Action {
	case ActionTaken:
		_, err = h.engine.Taken(ctx, cb.MedicationID, cb.Slot, cb.OccurrenceAt)
		result = "✅ 已記錄服用"
	case ActionDismiss:
		_, err = h.engine.Dismiss(ctx, cb.MedicationID, cb.Slot, cb.OccurrenceAt)
		result = "⏭ 已略過這次服藥"
	case ActionSnooze:
		var alarm *models.PendingAlarm
		alarm, err = h.engine.Snooze(ctx, cb.MedicationID, cb.Slot, cb.OccurrenceAt, time.Duration(cb.Minutes)*time.Minute)
		if alarm != nil {
			result = fmt.Sprintf("⏰ 將於 %s 再次提醒", alarm.ArmedAt.In(loc).Format("15:04"))
		} else {
			result = "⏰ 已記錄稍後提醒"
		}
	}

	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		h.answerCallbackWithAlert(callback.ID, "這次服藥已經處理過了")
		return
	case errors.Is(err, models.ErrNotFound):
		h.answerCallbackWithAlert(callback.ID, "找不到這個藥品")
		return
	case err != nil:
		h.logger.Error("Acknowledgement failed",
			zap.String("medication_id", cb.MedicationID),
			zap.Stringer("slot", cb.Slot),
			zap.Error(err),
		)
		h.answerCallbackWithAlert(callback.ID, "操作失敗，請稍後再試")
		return
	}

	h.answerCallback(callback.ID, "")
	text := callback.Message.Text
	h.editMessageText(callback.Message.Chat.ID, callback.Message.MessageID, text+"\n\n"+result)
}
