package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/ai"
	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/format"
	"go.uber.org/zap"
)

// Sender is the part of tgbotapi.BotAPI the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Handlers struct {
	api    Sender
	engine *engine.Engine
	ai     *ai.Client
	logger *zap.Logger

	mu     sync.Mutex
	drafts map[int64]*pendingDraft // chat ID -> draft waiting for confirmation
}

func New(api Sender, eng *engine.Engine, aiClient *ai.Client, logger *zap.Logger) *Handlers {
	return &Handlers{
		api:    api,
		engine: eng,
		ai:     aiClient,
		logger: logger,
		drafts: make(map[int64]*pendingDraft),
	}
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "meds":
		h.handleList(ctx, msg)
	case "add":
		h.handleAdd(ctx, msg)
	case "delete":
		h.handleDelete(ctx, msg)
	case "pause":
		h.handleSetActive(ctx, msg, false)
	case "resume":
		h.handleSetActive(ctx, msg, true)
	case "next":
		h.handleNext(ctx, msg)
	case "stats":
		h.handleStats(ctx, msg)
	default:
		h.sendMessage(msg.Chat.ID, "未知指令，請使用 /help 查看可用指令")
	}
}

func (h *Handlers) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	h.handleAIMessage(ctx, msg)
}

func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}

	switch {
	case strings.HasPrefix(callback.Data, ackPrefix):
		h.handleAckCallback(ctx, callback)
	case strings.HasPrefix(callback.Data, draftPrefix):
		h.handleDraftCallback(ctx, callback)
	default:
		h.answerCallback(callback.ID, "")
	}
}

func (h *Handlers) answerCallback(callbackID string, text string) {
	answer := tgbotapi.NewCallback(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		h.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func (h *Handlers) answerCallbackWithAlert(callbackID string, text string) {
	answer := tgbotapi.NewCallbackWithAlert(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		h.logger.Warn("Failed to answer callback with alert", zap.Error(err))
	}
}

func (h *Handlers) editMessageText(chatID int64, messageID int, text string) {
	parsed := format.ParseMarkdown(text)
	edit := tgbotapi.NewEditMessageText(chatID, messageID, parsed.Text)
	edit.Entities = parsed.Entities
	if _, err := h.api.Send(edit); err != nil {
		h.logger.Warn("Failed to edit message", zap.Error(err))
	}
}

func (h *Handlers) sendMessage(chatID int64, text string) {
	h.send(chatID, text, nil)
}

func (h *Handlers) send(chatID int64, text string, markup any) {
	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.api.Send(msg); err != nil {
		h.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	name := "👋"
	if msg.From != nil {
		name = msg.From.FirstName
	}
	text := fmt.Sprintf(`👋 你好 %s！

我是 medline，你的用藥提醒機器人。

我可以幫你：
💊 管理藥品與服藥時間
⏰ 準時提醒服藥
✅ 記錄已服用、稍後提醒或略過
📊 統計服藥狀況

你可以直接用自然語言告訴我你的用藥，例如：
• "每天早晚各吃一顆 Metformin 500mg"
• "每週一三五早上 9 點吃維他命 D"

使用 /help 查看所有指令`, name)
	h.sendMessage(msg.Chat.ID, text)
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	text := `📖 **指令列表**

**藥品**
/add 名稱 | 劑量 | 頻率 | 時間 - 新增藥品
   例如 ` + "`/add Aspirin | 100mg | daily | 08:00,20:00`" + `
   頻率: daily, weekly, monthly, as_needed 或 mo,we,fr
/meds - 查看藥品列表
/delete 編號 - 刪除藥品
/pause 編號 - 暫停提醒
/resume 編號 - 恢復提醒

**提醒**
/next - 查看即將到來的提醒
/stats - 查看近 7 天服藥統計

💡 你也可以直接用自然語言告訴我！`
	h.sendMessage(msg.Chat.ID, text)
}
