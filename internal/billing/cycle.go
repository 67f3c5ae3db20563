// Package billing assigns card purchases to billing cycles.
//
// A purchase made before the card's closing day belongs to the cycle
// that closes in the same month; on or after the closing day it rolls
// into the cycle closing the next month. Bills are named after the
// month their payment is due, which is always the month after the cycle
// closes.
package billing

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// Cycle identifies a billing cycle by the month in which it closes.
type Cycle struct {
	Month time.Month
	Year  int
}

func (c Cycle) String() string {
	return fmt.Sprintf("%s %d", c.Month, c.Year)
}

// Next returns the cycle closing one month later.
func (c Cycle) Next() Cycle {
	if c.Month == time.December {
		return Cycle{Month: time.January, Year: c.Year + 1}
	}
	return Cycle{Month: c.Month + 1, Year: c.Year}
}

// AssignCycle maps a purchase date and a closing day to the cycle the
// purchase is billed in. It depends on nothing but its arguments.
func AssignCycle(date civil.Date, closingDay int) Cycle {
	c := Cycle{Month: date.Month, Year: date.Year}
	if date.Day < closingDay {
		return c
	}
	return c.Next()
}

// Schedule is a card's closing and due days.
type Schedule struct {
	ClosingDay int
	DueDay     int
}

// ScheduleOf extracts the billing schedule of a card.
func ScheduleOf(card models.CreditCard) Schedule {
	return Schedule{ClosingDay: card.ClosingDay, DueDay: card.DueDay}
}

// Validate rejects days outside 1..31.
func (s Schedule) Validate() error {
	if s.ClosingDay < 1 || s.ClosingDay > 31 {
		return fmt.Errorf("%w: closing day %d outside 1..31", models.ErrValidation, s.ClosingDay)
	}
	if s.DueDay < 1 || s.DueDay > 31 {
		return fmt.Errorf("%w: due day %d outside 1..31", models.ErrValidation, s.DueDay)
	}
	return nil
}

// Bill is the statement a purchase lands on.
type Bill struct {
	Cycle   Cycle
	Closing civil.Date
	Due     civil.Date
}

// Name is the month of the due date, e.g. "November 2025" for a cycle
// closing in October.
func (b Bill) Name() string {
	return fmt.Sprintf("%s %d", b.Due.Month, b.Due.Year)
}

// Label is the human-facing bill title.
func (b Bill) Label() string {
	return "Bill of " + b.Name()
}

// Ref is the compact form stored in transaction metadata.
func (b Bill) Ref() models.BillRef {
	return models.BillRef{Month: int(b.Due.Month), Year: b.Due.Year, DueDate: b.Due}
}

// BillFor returns the bill a purchase on date belongs to. Closing and due
// days beyond the end of a short month fall on its last day.
func (s Schedule) BillFor(date civil.Date) Bill {
	return s.BillOf(AssignCycle(date, s.ClosingDay))
}

// BillOf returns the bill of an already assigned cycle.
func (s Schedule) BillOf(c Cycle) Bill {
	due := c.Next()
	return Bill{
		Cycle:   c,
		Closing: DayIn(c.Year, c.Month, s.ClosingDay),
		Due:     DayIn(due.Year, due.Month, s.DueDay),
	}
}

// DaysIn is the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayIn builds a date in the given month, clamping day to the month's
// last valid day.
func DayIn(year int, month time.Month, day int) civil.Date {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

// AddMonths moves d forward by n months keeping the day of month, or the
// last day of the target month when it is shorter (Jan 31 + 1 → Feb 28/29).
func AddMonths(d civil.Date, n int) civil.Date {
	total := int(d.Month) - 1 + n
	year := d.Year + floorDiv(total, 12)
	month := time.Month(total-floorDiv(total, 12)*12) + 1
	return DayIn(year, month, d.Day)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
