package civiltime

import (
	"fmt"
	"time"
)

// Calendar re-expresses absolute instants in the product's fixed display
// zone. Stored timestamps are never mutated, only read and converted; the
// zone exists purely for settlement period boundaries and display dates.
type Calendar struct {
	loc *time.Location
}

// Fixed returns a calendar anchored to a fixed UTC offset.
func Fixed(name string, offsetSeconds int) Calendar {
	return Calendar{loc: time.FixedZone(name, offsetSeconds)}
}

// Default returns the KST (+09:00) display calendar.
func Default() Calendar {
	return Fixed("KST", 9*60*60)
}

// Date is a civil date in the display calendar.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Period identifies a settlement month in the display calendar.
type Period struct {
	Year  int
	Month time.Month
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (c Calendar) location() *time.Location {
	if c.loc == nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return c.loc
}

// DisplayDate converts an absolute instant to its civil date.
func (c Calendar) DisplayDate(t time.Time) Date {
	local := t.In(c.location())
	return Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// PeriodStart returns the first instant of the settlement month.
func (c Calendar) PeriodStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, c.location())
}

// PeriodEnd returns the exclusive upper bound of the settlement month, the
// first instant of the following month.
func (c Calendar) PeriodEnd(year int, month time.Month) time.Time {
	next := Period{Year: year, Month: month}.next()
	return c.PeriodStart(next.Year, next.Month)
}

// PeriodFor returns the settlement period for a work-completion instant.
// Work performed in display month M settles in month M+1; December rolls
// into January of the following year.
func (c Calendar) PeriodFor(work time.Time) Period {
	d := c.DisplayDate(work)
	return Period{Year: d.Year, Month: d.Month}.next()
}

func (p Period) next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}
