package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"slotdesk/internal/booking"
	"slotdesk/internal/db"
	"slotdesk/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	records []db.BookingRecord
	err     error
	from    string
	to      string
}

func (f *fakeSource) ListBookings(_ context.Context, from, to string) ([]db.BookingRecord, error) {
	f.from, f.to = from, to
	return f.records, f.err
}

func record(id, date, start, referral string) db.BookingRecord {
	return db.BookingRecord{
		Booking: booking.Booking{
			ID:   id,
			Slot: schedule.TimeSlot{Date: date, Start: start, DurationMinutes: 30},
			Contact: booking.Contact{
				FullName:    "Ada Lovelace",
				Phone:       "+34600000000",
				Email:       "ada@example.com",
				CompanyName: "Engines Ltd",
			},
			ImpactLevel:  booking.ImpactMedium,
			BudgetTier:   booking.BudgetUnder5k,
			ReferralCode: referral,
			CreatedAt:    time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		},
		Status: db.StatusConfirmed,
	}
}

func TestBookings_Workbook(t *testing.T) {
	src := &fakeSource{records: []db.BookingRecord{
		record("b1", "2026-10-20", "09:00", "PARTNER42"),
		record("b2", "2026-10-20", "09:30", ""),
		record("b3", "2026-10-21", "16:00", "PARTNER42"),
	}}

	w, n, err := Bookings(context.Background(), src, "2026-10-01", "2026-10-31")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 3, n)
	assert.Equal(t, "2026-10-01", src.from)
	assert.Equal(t, "2026-10-31", src.to)

	var buf bytes.Buffer
	require.NoError(t, w.Save(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Bookings", "Referrals"}, f.GetSheetList())

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"b1", "2026-10-20", "09:00", "30", "confirmed"}, rows[1][:5])
	assert.Equal(t, "medium", rows[2][10])

	refs, err := f.GetRows("Referrals")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"PARTNER42", "2"}, refs[1])
}

func TestBookings_SourceError(t *testing.T) {
	_, _, err := Bookings(context.Background(), &fakeSource{err: errors.New("disk I/O error")}, "", "")
	assert.Error(t, err)
}

func TestWorkbook_SaveToFile(t *testing.T) {
	w := NewWorkbook()
	defer w.Close()

	assert.Error(t, w.WriteRow([]interface{}{"x"}), "no sheet yet")

	require.NoError(t, w.AddSheet("A very long sheet name that Excel would reject"))
	require.NoError(t, w.WriteHeader([]string{"Code"}))

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, w.SaveToFile(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList()[0], maxSheetName)
}
