package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotdesk/internal/booking"
	"slotdesk/internal/schedule"

	"github.com/mattn/go-sqlite3"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// stalePending is how long a pending reservation may block its key. It is longer
// than any submission timeout, so only reservations of crashed submissions expire.
const stalePending = 10 * time.Minute

// BookingRecord is a stored booking with its lifecycle status.
type BookingRecord struct {
	booking.Booking
	Status    string
	UpdatedAt time.Time
}

// Reserve inserts a pending booking. A confirmed or recent pending booking with the
// same (email, date, start) yields booking.ErrDuplicateBooking.
func (db *DB) Reserve(ctx context.Context, b booking.Booking) error {
	key := b.DedupKey()
	now := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bookings WHERE dedup_key = ? AND status = ? AND updated_at < ?`,
		key, StatusPending, now.Add(-stalePending),
	); err != nil {
		return fmt.Errorf("expire stale reservation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, dedup_key, date, start_time, duration_minutes,
			full_name, phone, email, company_name, company_website,
			impact_level, budget_tier, referral_code, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, key, b.Slot.Date, b.Slot.Start, b.Slot.DurationMinutes,
		b.Contact.FullName, b.Contact.Phone, b.Contact.Email, b.Contact.CompanyName, b.Contact.CompanyWebsite,
		string(b.ImpactLevel), string(b.BudgetTier), b.ReferralCode, StatusPending, b.CreatedAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", booking.ErrDuplicateBooking, b.Slot.Date, b.Slot.Start)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return tx.Commit()
}

// Release removes a pending reservation after a failed submission.
func (db *DB) Release(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND status = ?`, id, StatusPending)
	if err != nil {
		return fmt.Errorf("release booking %s: %w", id, err)
	}
	return nil
}

// Confirm marks a reservation as accepted by the booking sink.
func (db *DB) Confirm(ctx context.Context, id, calendarReference string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, calendar_reference = ?, updated_at = ? WHERE id = ?`,
		StatusConfirmed, calendarReference, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("confirm booking %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirm booking %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// LogReferral stores the outcome of a referral attribution.
func (db *DB) LogReferral(ctx context.Context, bookingID, code, status string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO referral_log (booking_id, code, status, created_at) VALUES (?, ?, ?, ?)`,
		bookingID, code, status, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("log referral for %s: %w", bookingID, err)
	}
	return nil
}

// ListBookings returns bookings with from <= date <= to (YYYY-MM-DD), ordered by slot.
// Empty bounds are open.
func (db *DB) ListBookings(ctx context.Context, from, to string) ([]BookingRecord, error) {
	query := `
		SELECT id, date, start_time, duration_minutes, full_name, phone, email,
			company_name, COALESCE(company_website, ''), impact_level, budget_tier,
			COALESCE(referral_code, ''), COALESCE(calendar_reference, ''), status, created_at, updated_at
		FROM bookings
		WHERE (? = '' OR date >= ?) AND (? = '' OR date <= ?)
		ORDER BY date, start_time`

	rows, err := db.QueryContext(ctx, query, from, from, to, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []BookingRecord
	for rows.Next() {
		var (
			r      BookingRecord
			impact string
			budget string
		)
		if err := rows.Scan(
			&r.ID, &r.Slot.Date, &r.Slot.Start, &r.Slot.DurationMinutes,
			&r.Contact.FullName, &r.Contact.Phone, &r.Contact.Email,
			&r.Contact.CompanyName, &r.Contact.CompanyWebsite, &impact, &budget,
			&r.ReferralCode, &r.CalendarReference, &r.Status, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		r.ImpactLevel = booking.ImpactLevel(impact)
		r.BudgetTier = booking.BudgetTier(budget)
		if day, err := time.ParseInLocation(schedule.DateLayout, r.Slot.Date, time.Local); err == nil {
			r.Slot.Day = day
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountReferrals returns how many attributions were recorded per status for code.
func (db *DB) CountReferrals(ctx context.Context, code string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM referral_log WHERE code = ? GROUP BY status`, code)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan referral count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
