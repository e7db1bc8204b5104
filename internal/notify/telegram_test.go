package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slotdesk/internal/booking"
	"slotdesk/internal/events"
	"slotdesk/internal/schedule"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.MessageConfig
	errs  []error
	calls int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func sampleBooking() booking.Booking {
	return booking.Booking{
		ID:   "b1",
		Slot: schedule.TimeSlot{Date: "2026-10-20", Start: "16:00", DurationMinutes: 30},
		Contact: booking.Contact{
			FullName:    "Ada Lovelace",
			Phone:       "+34600000000",
			Email:       "ada@example.com",
			CompanyName: "Engines Ltd",
		},
		ImpactLevel:  booking.ImpactHigh,
		BudgetTier:   booking.BudgetOver20k,
		ReferralCode: "PARTNER42",
	}
}

func fastNotifier(sender Sender, managers ...int64) *ManagerNotifier {
	n := NewManagerNotifier(sender, managers, nil)
	n.retry = RetryConfig{MaxRetries: 2, RetryDelays: []time.Duration{time.Millisecond}}
	return n
}

func TestNotify_SendsToEveryManager(t *testing.T) {
	sender := &fakeSender{}
	fastNotifier(sender, 100, 200).Notify(context.Background(), sampleBooking())

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(100), sender.sent[0].ChatID)
	assert.Equal(t, int64(200), sender.sent[1].ChatID)
	assert.Contains(t, sender.sent[0].Text, "2026-10-20 16:00")
	assert.Contains(t, sender.sent[0].Text, "Referral: PARTNER42")
}

func TestNotify_RetriesTransientErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{
		errors.New("timeout"),
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
	}}
	fastNotifier(sender, 100).Notify(context.Background(), sampleBooking())

	assert.Equal(t, 3, sender.calls)
	assert.Len(t, sender.sent, 1)
}

func TestNotify_BlockedChatIsNotRetried(t *testing.T) {
	sender := &fakeSender{errs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}}
	fastNotifier(sender, 100).Notify(context.Background(), sampleBooking())

	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, sender.sent)
}

func TestHandleEvent_QueuesForRun(t *testing.T) {
	sender := &fakeSender{}
	n := fastNotifier(sender, 100)

	bus := events.NewEventBus(nil)
	bus.Subscribe(events.BookingConfirmed, n.HandleEvent)

	ev, err := events.NewEvent(events.BookingConfirmed, sampleBooking())
	require.NoError(t, err)
	bus.Publish(ev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFormatBooking_OptionalFields(t *testing.T) {
	b := sampleBooking()
	b.ReferralCode = ""
	text := FormatBooking(b)

	assert.NotContains(t, text, "Referral")
	assert.NotContains(t, text, "Calendar")
	assert.Contains(t, text, "Budget: over_20k")
}
