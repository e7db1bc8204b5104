// Package export writes stored bookings to Excel workbooks for managers.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"

	"slotdesk/internal/db"

	"github.com/xuri/excelize/v2"
)

// Excel limits sheet names to 31 characters.
const maxSheetName = 31

var bookingColumns = []string{
	"ID", "Date", "Start", "Minutes", "Status",
	"Full name", "Phone", "Email", "Company", "Website",
	"Impact", "Budget", "Referral", "Calendar reference", "Created at",
}

// BookingSource lists stored bookings in a date range.
type BookingSource interface {
	ListBookings(ctx context.Context, from, to string) ([]db.BookingRecord, error)
}

// Workbook is a sequential sheet writer over an excelize file.
type Workbook struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

// NewWorkbook creates an empty workbook.
func NewWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// AddSheet adds a sheet and makes it current. The first call renames the default sheet.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers and freezes them.
func (w *Workbook) WriteHeader(columns []string) error {
	if err := w.WriteRow(toRow(columns)); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return w.file.SetPanes(w.currentSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// WriteRow writes a data row to the current sheet.
func (w *Workbook) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", w.currentRow, err)
	}
	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *Workbook) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// SaveToFile writes the workbook to disk.
func (w *Workbook) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

// Close releases resources.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Bookings builds a workbook with a "Bookings" sheet listing records from..to and a
// "Referrals" sheet counting bookings per referral code.
func Bookings(ctx context.Context, src BookingSource, from, to string) (*Workbook, int, error) {
	records, err := src.ListBookings(ctx, from, to)
	if err != nil {
		return nil, 0, err
	}

	w := NewWorkbook()
	if err := writeBookings(w, records); err != nil {
		_ = w.Close()
		return nil, 0, err
	}
	if err := writeReferrals(w, records); err != nil {
		_ = w.Close()
		return nil, 0, err
	}
	return w, len(records), nil
}

func writeBookings(w *Workbook, records []db.BookingRecord) error {
	if err := w.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := w.WriteHeader(bookingColumns); err != nil {
		return err
	}
	for _, r := range records {
		row := []interface{}{
			r.ID, r.Slot.Date, r.Slot.Start, r.Slot.DurationMinutes, r.Status,
			r.Contact.FullName, r.Contact.Phone, r.Contact.Email, r.Contact.CompanyName, r.Contact.CompanyWebsite,
			string(r.ImpactLevel), string(r.BudgetTier), r.ReferralCode, r.CalendarReference,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}

func writeReferrals(w *Workbook, records []db.BookingRecord) error {
	counts := map[string]int{}
	for _, r := range records {
		if r.ReferralCode != "" {
			counts[r.ReferralCode]++
		}
	}
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	if err := w.AddSheet("Referrals"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Code", "Bookings"}); err != nil {
		return err
	}
	for _, code := range codes {
		if err := w.WriteRow([]interface{}{code, counts[code]}); err != nil {
			return err
		}
	}
	return nil
}

func toRow(cols []string) []interface{} {
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	return row
}
