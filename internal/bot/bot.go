package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/ai"
	"github.com/hray3182/medline/internal/bot/handlers"
	"github.com/hray3182/medline/internal/engine"
	"go.uber.org/zap"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	handlers *handlers.Handlers
	logger   *zap.Logger
}

func New(token string, chatID int64, eng *engine.Engine, aiClient *ai.Client, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:      api,
		chatID:   chatID,
		handlers: handlers.New(api, eng, aiClient, logger),
		logger:   logger,
	}, nil
}

// API exposes the Telegram client so the presenter can share it.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Authorized on Telegram", zap.String("account", b.api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	chat := update.FromChat()
	if chat == nil {
		return
	}
	// Single user: every other chat is ignored
	if chat.ID != b.chatID {
		b.logger.Debug("Ignoring update from unknown chat", zap.Int64("chat_id", chat.ID))
		return
	}

	if update.CallbackQuery != nil {
		b.handlers.HandleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}

	// Handle commands
	if update.Message.IsCommand() {
		b.handlers.HandleCommand(ctx, update.Message)
		return
	}

	// Handle regular messages with AI
	b.handlers.HandleMessage(ctx, update.Message)
}
