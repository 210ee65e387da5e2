package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/format"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/rrule"
	"go.uber.org/zap"
)

const (
	draftPrefix   = "med:"
	draftConfirm  = draftPrefix + "confirm"
	draftCancel   = draftPrefix + "cancel"
	draftLifetime = 5 * time.Minute
)

// pendingDraft is a parsed medication waiting for the user to confirm it.
type pendingDraft struct {
	Medication *models.Medication
	ExpiresAt  time.Time
}

func (h *Handlers) handleAIMessage(ctx context.Context, msg *tgbotapi.Message) {
	if h.ai == nil {
		h.sendMessage(msg.Chat.ID, "AI 功能尚未啟用，請使用 /add 新增藥品")
		return
	}

	h.logger.Debug("Incoming message", zap.Int64("chat_id", msg.Chat.ID), zap.String("text", msg.Text))

	draft, err := h.ai.ParseMedication(ctx, msg.Text)
	if err != nil {
		h.logger.Warn("Failed to parse medication", zap.Error(err))
		h.sendMessage(msg.Chat.ID, "抱歉，我無法理解你的訊息。請試著用更清楚的方式描述，或使用 /help 查看可用指令。")
		return
	}

	h.logger.Debug("Parsed medication",
		zap.String("name", draft.Name),
		zap.String("frequency", draft.Frequency),
		zap.Strings("slots", draft.Slots),
		zap.Float64("confidence", draft.Confidence),
		zap.Bool("need_more_info", draft.NeedMoreInfo),
		zap.String("raw", draft.RawResponse),
	)

	if draft.NeedMoreInfo || draft.Confidence < 0.5 || strings.TrimSpace(draft.Name) == "" {
		response := draft.AIMessage
		if response == "" {
			response = "我不太確定你想新增什麼藥品，可以說得更清楚一點嗎？"
		}
		h.sendMessage(msg.Chat.ID, response)
		return
	}

	med, err := draft.ToMedication()
	if err == nil {
		err = med.Validate()
	}
	if err != nil {
		h.sendMessage(msg.Chat.ID, "❌ 無法建立藥品: "+err.Error())
		return
	}

	h.requestConfirmation(msg.Chat.ID, med, draft.AIMessage)
}

func (h *Handlers) requestConfirmation(chatID int64, med *models.Medication, note string) {
	h.mu.Lock()
	h.drafts[chatID] = &pendingDraft{
		Medication: med,
		ExpiresAt:  time.Now().Add(draftLifetime),
	}
	h.mu.Unlock()

	var sb strings.Builder
	if note != "" {
		sb.WriteString(note + "\n\n")
	}
	sb.WriteString("💊 **確認新增藥品？**\n\n")
	sb.WriteString(format.Escape(med.Name))
	if med.Dosage != "" {
		sb.WriteString(" " + format.Escape(med.Dosage))
	}
	sb.WriteString("\n📅 " + rrule.Describe(med, h.engine.Location()))
	if med.Notes != "" {
		sb.WriteString("\n📝 " + format.Escape(med.Notes))
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ 確認", draftConfirm),
			tgbotapi.NewInlineKeyboardButtonData("❌ 取消", draftCancel),
		),
	)
	h.send(chatID, sb.String(), keyboard)
}

// takeDraft removes and returns the chat's draft if it has not expired.
func (h *Handlers) takeDraft(chatID int64) *pendingDraft {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending, ok := h.drafts[chatID]
	delete(h.drafts, chatID)
	if !ok || time.Now().After(pending.ExpiresAt) {
		return nil
	}
	return pending
}

func (h *Handlers) handleDraftCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	h.answerCallback(callback.ID, "")

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	pending := h.takeDraft(chatID)
	if pending == nil {
		h.editMessageText(chatID, messageID, "⏰ 確認已過期")
		return
	}

	switch callback.Data {
	case draftConfirm:
		saved, err := h.engine.SaveMedication(ctx, pending.Medication)
		if saved == nil {
			h.logger.Error("Failed to save medication", zap.Error(err))
			h.editMessageText(chatID, messageID, "❌ 新增藥品失敗，請稍後再試")
			return
		}
		text := fmt.Sprintf("✅ 已新增 **%s**\n📅 %s", format.Escape(saved.Name), rrule.Describe(saved, h.engine.Location()))
		if err != nil {
			text += "\n\n⚠️ 提醒排程暫時失敗，系統會自動重試"
		}
		h.editMessageText(chatID, messageID, text)
	default:
		h.editMessageText(chatID, messageID, "❌ 已取消操作")
	}
}
