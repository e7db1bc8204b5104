// Package notify tells managers about new bookings over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotdesk/internal/booking"
	"slotdesk/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// ManagerNotifier sends one message per confirmed booking to every manager chat.
// Events are queued and delivered by Run so publishing never waits on Telegram.
type ManagerNotifier struct {
	sender   Sender
	managers []int64
	limiter  *rate.Limiter
	retry    RetryConfig
	queue    chan booking.Booking
	logger   *zerolog.Logger
}

// NewManagerNotifier creates a notifier for the given manager chat ids.
func NewManagerNotifier(sender Sender, managers []int64, logger *zerolog.Logger) *ManagerNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	// Telegram allows about 30 messages per second per bot.
	return &ManagerNotifier{
		sender:   sender,
		managers: managers,
		limiter:  rate.NewLimiter(rate.Limit(25), 5),
		retry:    DefaultRetryConfig(),
		queue:    make(chan booking.Booking, 64),
		logger:   logger,
	}
}

// NewBotSender connects to the Telegram Bot API.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return api, nil
}

// HandleEvent is an events.EventHandler for events.BookingConfirmed.
func (n *ManagerNotifier) HandleEvent(ev events.Event) error {
	var b booking.Booking
	if err := ev.Decode(&b); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	select {
	case n.queue <- b:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping booking %s", b.ID)
	}
}

// Run delivers queued notifications until ctx is done.
func (n *ManagerNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-n.queue:
			n.Notify(ctx, b)
		}
	}
}

// Notify sends the booking to every manager. Failures are logged per chat.
func (n *ManagerNotifier) Notify(ctx context.Context, b booking.Booking) {
	text := FormatBooking(b)
	for _, chatID := range n.managers {
		if err := n.sendWithRetry(ctx, chatID, text); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("booking_id", b.ID).Msg("manager notification failed")
		}
	}
}

func (n *ManagerNotifier) sendWithRetry(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}
		lastErr = err

		delay := n.delay(attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429: // Too Many Requests
				if tgErr.RetryAfter > 0 {
					delay = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case 400, 403: // bad request or bot blocked
				return err
			}
		}

		if attempt == n.retry.MaxRetries {
			break
		}
		n.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying manager notification")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (n *ManagerNotifier) delay(attempt int) time.Duration {
	if len(n.retry.RetryDelays) == 0 {
		return time.Second
	}
	if attempt < len(n.retry.RetryDelays) {
		return n.retry.RetryDelays[attempt]
	}
	return n.retry.RetryDelays[len(n.retry.RetryDelays)-1]
}

// FormatBooking renders the manager message for a booking.
func FormatBooking(b booking.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New booking %s\n", b.ID)
	fmt.Fprintf(&sb, "Date: %s %s (%d min)\n", b.Slot.Date, b.Slot.Start, b.Slot.DurationMinutes)
	fmt.Fprintf(&sb, "Name: %s\n", b.Contact.FullName)
	fmt.Fprintf(&sb, "Phone: %s\n", b.Contact.Phone)
	fmt.Fprintf(&sb, "Email: %s\n", b.Contact.Email)
	fmt.Fprintf(&sb, "Company: %s", b.Contact.CompanyName)
	if b.Contact.CompanyWebsite != "" {
		fmt.Fprintf(&sb, " (%s)", b.Contact.CompanyWebsite)
	}
	fmt.Fprintf(&sb, "\nImpact: %s\nBudget: %s", b.ImpactLevel, b.BudgetTier)
	if b.ReferralCode != "" {
		fmt.Fprintf(&sb, "\nReferral: %s", b.ReferralCode)
	}
	if b.CalendarReference != "" {
		fmt.Fprintf(&sb, "\nCalendar: %s", b.CalendarReference)
	}
	return sb.String()
}
