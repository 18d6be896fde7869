package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/retry"
)

// BotAPI is the part of the Telegram bot API the sink uses. *telego.Bot
// satisfies it; tests pass a mock.
type BotAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramSink sends alerts to one Telegram chat.
type TelegramSink struct {
	bot     BotAPI
	chatID  int64
	maxLen  int
	timeout time.Duration
	limiter *rate.Limiter
	retry   retry.Config
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewTelegram creates a sink backed by a real bot.
func NewTelegram(cfg config.AlertsConfig, log *logger.Logger, m *metrics.Metrics) (*TelegramSink, error) {
	bot, err := telego.NewBot(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramWithBot(bot, cfg, log, m), nil
}

// NewTelegramWithBot creates a sink around an existing bot implementation.
func NewTelegramWithBot(bot BotAPI, cfg config.AlertsConfig, log *logger.Logger, m *metrics.Metrics) *TelegramSink {
	timeout := time.Duration(cfg.Telegram.SendTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.Telegram.SendAttempts
	if attempts < 1 {
		attempts = 1
	}
	sink := &TelegramSink{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		maxLen:  cfg.MaxLength,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		log:     log.With(logger.Field{Key: "component", Value: "alert"}),
		metrics: m,
	}
	sink.retry = retry.Config{
		MaxAttempts: attempts,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			sink.log.Warn("alert delivery failed, retrying",
				logger.Field{Key: "attempt", Value: attempt},
				logger.Field{Key: "wait", Value: wait.String()},
				logger.Field{Key: "error", Value: err.Error()})
		},
	}
	return sink
}

// Send truncates and delivers text. It waits for the rate limiter, so a burst
// of failures is paced rather than dropped.
func (s *TelegramSink) Send(ctx context.Context, text string) bool {
	text = Truncate(text, s.maxLen)

	if err := s.limiter.Wait(ctx); err != nil {
		s.log.WarnCtx(ctx, "alert dropped while waiting for rate limiter",
			logger.Field{Key: "error", Value: err})
		s.metrics.Alert(false)
		return false
	}

	params := telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: s.chatID},
		Text:      text,
		ParseMode: telego.ModeMarkdown,
	}

	err := s.deliver(ctx, &params)
	if err != nil && isParseError(err) {
		// Job output can contain stray markdown; retry as plain text.
		params.ParseMode = ""
		err = s.deliver(ctx, &params)
	}
	if err != nil {
		s.log.ErrorCtx(ctx, "failed to deliver alert", err,
			logger.Field{Key: "chat_id", Value: s.chatID})
		s.metrics.Alert(false)
		return false
	}

	s.metrics.Alert(true)
	return true
}

// deliver sends params, repeating transient failures.
func (s *TelegramSink) deliver(ctx context.Context, params *telego.SendMessageParams) error {
	return retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.send(ctx, params)
	})
}

func (s *TelegramSink) send(ctx context.Context, params *telego.SendMessageParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in telegram send: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.bot.SendMessage(sendCtx, params)
	return err
}

func isParseError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't find end of the entity")
}
