package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medline/internal/bot/handlers"
	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/format"
	"github.com/hray3182/medline/internal/models"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Presenter shows reminders in the configured Telegram chat. Sends are rate
// limited and guarded by a circuit breaker so that an unreachable Telegram
// API fails fast and the fallback presenter takes over.
type Presenter struct {
	api     handlers.Sender
	chatID  int64
	loc     *time.Location
	snooze  time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[tgbotapi.Message]
	logger  *zap.Logger
}

type PresenterOptions struct {
	Location      *time.Location
	DefaultSnooze time.Duration
	RatePerSec    float64
	// Consecutive failures before the breaker opens
	MaxFailures uint32
	// How long the breaker stays open
	OpenTimeout time.Duration
}

func NewPresenter(api handlers.Sender, chatID int64, logger *zap.Logger, opts PresenterOptions) *Presenter {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 3
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	p := &Presenter{
		api:     api,
		chatID:  chatID,
		loc:     opts.Location,
		snooze:  opts.DefaultSnooze,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		logger:  logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[tgbotapi.Message](gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return p
}

// Present sends the reminder with Taken / Snooze / Dismiss buttons.
func (p *Presenter) Present(ctx context.Context, r models.Reminder) error {
	parsed := format.ParseMarkdown(handlers.FormatReminder(r, p.loc))
	msg := tgbotapi.NewMessage(p.chatID, parsed.Text)
	msg.Entities = parsed.Entities
	msg.ReplyMarkup = handlers.ReminderKeyboard(r, p.snooze)

	if err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	return nil
}

// SendSummary sends the daily summary.
func (p *Presenter) SendSummary(ctx context.Context, s *engine.Summary) error {
	parsed := format.ParseMarkdown(handlers.FormatSummary(s, p.loc))
	msg := tgbotapi.NewMessage(p.chatID, parsed.Text)
	msg.Entities = parsed.Entities

	if err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}
	return nil
}

func (p *Presenter) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := p.breaker.Execute(func() (tgbotapi.Message, error) {
		return p.api.Send(msg)
	})
	return err
}
