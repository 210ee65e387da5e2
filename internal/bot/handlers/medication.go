package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/format"
	"github.com/hray3182/medline/internal/models"
	"go.uber.org/zap"
)

// ParseAddArgs reads "name | dosage | frequency | HH:MM,HH:MM". Only the name
// is required; frequency defaults to daily.
func ParseAddArgs(args string) (*models.Medication, error) {
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 4 || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected name | dosage | frequency | times", models.ErrInvalidFrequencyConfig)
	}
	field := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	freq, err := models.ParseFrequency(field(2))
	if err != nil {
		return nil, err
	}
	var slots []models.TimeSlot
	if raw := field(3); raw != "" {
		slots, err = models.ParseTimeSlots(raw)
		if err != nil {
			return nil, err
		}
	}

	return &models.Medication{
		Name:      parts[0],
		Dosage:    field(1),
		Frequency: freq,
		Slots:     slots,
		Active:    true,
	}, nil
}

// medications returns the list in the order /meds shows it, so the numbers
// users type refer to the same entries.
func (h *Handlers) medications(ctx context.Context) ([]*models.Medication, error) {
	meds, err := h.engine.Medications(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(meds, func(i, j int) bool {
		if meds[i].CreatedAt.Equal(meds[j].CreatedAt) {
			return meds[i].ID < meds[j].ID
		}
		return meds[i].CreatedAt.Before(meds[j].CreatedAt)
	})
	return meds, nil
}

// byIndex resolves the 1-based number from the command arguments.
func (h *Handlers) byIndex(ctx context.Context, msg *tgbotapi.Message, usage string) (*models.Medication, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil || n <= 0 {
		h.sendMessage(msg.Chat.ID, "請提供藥品編號\n用法: "+usage)
		return nil, false
	}
	meds, err := h.medications(ctx)
	if err != nil {
		h.logger.Error("Failed to list medications", zap.Error(err))
		h.sendMessage(msg.Chat.ID, "取得藥品列表失敗，請稍後再試")
		return nil, false
	}
	if n > len(meds) {
		h.sendMessage(msg.Chat.ID, fmt.Sprintf("找不到編號 %d 的藥品，請使用 /meds 查看列表", n))
		return nil, false
	}
	return meds[n-1], true
}

func (h *Handlers) handleList(ctx context.Context, msg *tgbotapi.Message) {
	meds, err := h.medications(ctx)
	if err != nil {
		h.logger.Error("Failed to list medications", zap.Error(err))
		h.sendMessage(msg.Chat.ID, "取得藥品列表失敗，請稍後再試")
		return
	}
	if len(meds) == 0 {
		h.sendMessage(msg.Chat.ID, "💊 目前沒有藥品\n使用 /add 新增，或直接告訴我你的用藥")
		return
	}

	loc := h.engine.Location()
	var sb strings.Builder
	sb.WriteString("💊 **藥品列表**\n\n")
	for i, med := range meds {
		sb.WriteString(formatMedication(i+1, med, h.engine.Alarms(med.ID), loc))
		sb.WriteString("\n\n")
	}
	h.sendMessage(msg.Chat.ID, sb.String())
}

func (h *Handlers) handleAdd(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		h.sendMessage(msg.Chat.ID, "請提供藥品資訊\n用法: /add 名稱 | 劑量 | 頻率 | 時間\n例如: `/add Aspirin | 100mg | daily | 08:00,20:00`")
		return
	}

	med, err := ParseAddArgs(args)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "格式錯誤: "+err.Error())
		return
	}
	h.saveMedication(ctx, msg.Chat.ID, med)
}

// saveMedication stores med and reports the result to the chat.
func (h *Handlers) saveMedication(ctx context.Context, chatID int64, med *models.Medication) {
	saved, err := h.engine.SaveMedication(ctx, med)
	var text string
	switch {
	case saved == nil && errors.Is(err, models.ErrInvalidFrequencyConfig):
		text = "❌ 藥品設定無效: " + err.Error()
	case saved == nil:
		h.logger.Error("Failed to save medication", zap.Error(err))
		text = "❌ 新增藥品失敗，請稍後再試"
	default:
		text = fmt.Sprintf("✅ 已新增藥品\n\n%s", formatMedication(0, saved, h.engine.Alarms(saved.ID), h.engine.Location()))
		text = strings.Replace(text, "**0.** ", "", 1)
		if err != nil {
			h.logger.Warn("Medication saved without alarms", zap.String("medication_id", saved.ID), zap.Error(err))
			text += "\n\n⚠️ 提醒排程暫時失敗，系統會自動重試"
		}
	}
	h.sendMessage(chatID, text)
}

func (h *Handlers) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	med, ok := h.byIndex(ctx, msg, "/delete 編號")
	if !ok {
		return
	}
	if err := h.engine.DeleteMedication(ctx, med.ID); err != nil {
		h.logger.Error("Failed to delete medication", zap.String("medication_id", med.ID), zap.Error(err))
		h.sendMessage(msg.Chat.ID, "刪除藥品失敗，請稍後再試")
		return
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("🗑 已刪除 **%s**", format.Escape(med.Name)))
}

func (h *Handlers) handleSetActive(ctx context.Context, msg *tgbotapi.Message, active bool) {
	usage := "/pause 編號"
	if active {
		usage = "/resume 編號"
	}
	med, ok := h.byIndex(ctx, msg, usage)
	if !ok {
		return
	}

	updated, err := h.engine.SetActive(ctx, med.ID, active)
	if updated == nil {
		h.logger.Error("Failed to update medication", zap.String("medication_id", med.ID), zap.Error(err))
		h.sendMessage(msg.Chat.ID, "更新藥品失敗，請稍後再試")
		return
	}

	text := fmt.Sprintf("⏸ 已暫停 **%s** 的提醒", format.Escape(med.Name))
	if active {
		text = fmt.Sprintf("▶️ 已恢復 **%s** 的提醒", format.Escape(med.Name))
	}
	if err != nil {
		text += "\n\n⚠️ 提醒排程暫時失敗，系統會自動重試"
	}
	h.sendMessage(msg.Chat.ID, text)
}

func (h *Handlers) handleNext(ctx context.Context, msg *tgbotapi.Message) {
	upcoming, err := h.engine.Upcoming(ctx, 10)
	if err != nil {
		h.logger.Error("Failed to list upcoming alarms", zap.Error(err))
		h.sendMessage(msg.Chat.ID, "取得提醒失敗，請稍後再試")
		return
	}
	if len(upcoming) == 0 {
		h.sendMessage(msg.Chat.ID, "⏰ 目前沒有排定的提醒")
		return
	}

	loc := h.engine.Location()
	var sb strings.Builder
	sb.WriteString("⏰ **即將到來的提醒**\n\n")
	for _, u := range upcoming {
		sb.WriteString(fmt.Sprintf("`%s` %s", u.Alarm.ArmedAt.In(loc).Format("01-02 15:04"), format.Escape(u.Medication.Name)))
		if u.Medication.Dosage != "" {
			sb.WriteString(" " + format.Escape(u.Medication.Dosage))
		}
		if u.Alarm.Snooze {
			sb.WriteString(" (稍後提醒)")
		}
		sb.WriteString("\n")
	}
	h.sendMessage(msg.Chat.ID, sb.String())
}

func (h *Handlers) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	loc := h.engine.Location()
	now := h.engine.Now().In(loc)
	end := now
	start := now.AddDate(0, 0, -7)

	counts, err := h.engine.Stats(ctx, start, end)
	if err != nil {
		h.logger.Error("Failed to load stats", zap.Error(err))
		h.sendMessage(msg.Chat.ID, "取得統計失敗，請稍後再試")
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 **近 7 天服藥統計**\n\n")
	sb.WriteString(formatCounts(counts))

	meds, err := h.medications(ctx)
	if err == nil {
		var lines []string
		for _, med := range meds {
			if !med.IsScheduled() {
				continue
			}
			a, err := h.engine.Adherence(ctx, med.ID, start, end)
			if err != nil || a.Expected-a.Upcoming == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("• %s: %.0f%% (%d/%d)", format.Escape(med.Name), a.Rate*100, a.Taken, a.Expected-a.Upcoming))
		}
		if len(lines) > 0 {
			sb.WriteString("\n\n**服藥率**\n")
			sb.WriteString(strings.Join(lines, "\n"))
		}
	}
	h.sendMessage(msg.Chat.ID, sb.String())
}
