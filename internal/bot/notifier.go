package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stirka/internal/metrics"
	"stirka/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

// NotifierConfig bounds outbound background messages.
type NotifierConfig struct {
	RatePerSecond float64
	Burst         int
	MaxRetries    int
}

// Notifier delivers messages that are not replies to a user action:
// reminders and reset announcements.
type Notifier struct {
	tg         telegramClient
	limiter    *rate.Limiter
	maxRetries int
	label      func(model.Machine) string
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

func newNotifier(tg telegramClient, cfg NotifierConfig, label func(model.Machine) string, logger *zerolog.Logger) *Notifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Notifier{
		tg:         tg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		label:      label,
		sleep:      sleepCtx,
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) SendText(ctx context.Context, userID int64, text string) error {
	return n.deliver(ctx, "text", tgbotapi.NewMessage(userID, text))
}

func (n *Notifier) SendReminder(ctx context.Context, b model.Booking, minutesLeft int) error {
	text := reminderText(b, minutesLeft, n.label(b.Machine))
	return n.deliver(ctx, "reminder", tgbotapi.NewMessage(b.UserID, text))
}

func (n *Notifier) deliver(ctx context.Context, kind string, msg tgbotapi.MessageConfig) error {
	start := time.Now()
	err := n.send(ctx, msg)
	metrics.ObserveNotificationDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.IncNotification(kind, "failed")
		return err
	}
	metrics.IncNotification(kind, "sent")
	return nil
}

// send retries transient failures. A 429 waits for the advertised
// RetryAfter; 400 and 403 (chat gone, bot blocked) are final.
func (n *Notifier) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrNotificationDeliveryFailed, err)
		}
		_, err := n.tg.Send(msg)
		if err == nil {
			return nil
		}

		wait := backoff
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case 400, 403:
				return fmt.Errorf("%w: chat %d: %v", ErrNotificationDeliveryFailed, msg.ChatID, err)
			case 429:
				if apiErr.RetryAfter > 0 {
					wait = time.Duration(apiErr.RetryAfter) * time.Second
				}
			}
		}
		if attempt >= n.maxRetries {
			return fmt.Errorf("%w: chat %d after %d attempts: %v", ErrNotificationDeliveryFailed, msg.ChatID, attempt+1, err)
		}

		n.logger.Debug().Err(err).Int64("chat_id", msg.ChatID).Dur("wait", wait).Msg("retrying notification")
		if err := n.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %v", ErrNotificationDeliveryFailed, err)
		}
		backoff *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
