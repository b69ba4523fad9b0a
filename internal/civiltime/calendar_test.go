package civiltime_test

import (
	"testing"
	"time"

	"github.com/carrylink/backend-carry/internal/civiltime"
)

func TestPeriodForAdvancesOneMonth(t *testing.T) {
	cal := civiltime.Default()
	for m := time.January; m <= time.November; m++ {
		work := time.Date(2026, m, 15, 3, 0, 0, 0, time.UTC)
		p := cal.PeriodFor(work)
		if p.Year != 2026 || p.Month != m+1 {
			t.Fatalf("work in %v settles in %v, want 2026-%d", m, p, int(m)+1)
		}
	}
}

func TestPeriodForDecemberRollsYear(t *testing.T) {
	cal := civiltime.Default()
	for day := 1; day <= 31; day += 10 {
		work := time.Date(2025, time.December, day, 12, 0, 0, 0, time.UTC)
		p := cal.PeriodFor(work)
		if p.Year != 2026 || p.Month != time.January {
			t.Fatalf("December work must settle in January of the next year, got %v", p)
		}
	}
}

func TestPeriodForHonoursDisplayOffset(t *testing.T) {
	cal := civiltime.Default()
	// 2026-03-31T16:00:00Z is already April 1st in KST.
	work := time.Date(2026, time.March, 31, 16, 0, 0, 0, time.UTC)
	p := cal.PeriodFor(work)
	if p.Year != 2026 || p.Month != time.May {
		t.Fatalf("expected 2026-05, got %v", p)
	}
}

func TestDisplayDate(t *testing.T) {
	cal := civiltime.Default()
	d := cal.DisplayDate(time.Date(2026, time.January, 31, 20, 30, 0, 0, time.UTC))
	if d.Year != 2026 || d.Month != time.February || d.Day != 1 {
		t.Fatalf("unexpected display date: %+v", d)
	}
}

func TestPeriodBoundaries(t *testing.T) {
	cal := civiltime.Default()
	start := cal.PeriodStart(2026, time.February)
	end := cal.PeriodEnd(2026, time.February)
	if !end.Equal(cal.PeriodStart(2026, time.March)) {
		t.Fatalf("period end must be the start of the following month, got %v", end)
	}
	if !start.Before(end) {
		t.Fatalf("start %v not before end %v", start, end)
	}
	// KST midnight is 15:00 UTC the previous day.
	if got := start.UTC(); got.Hour() != 15 || got.Day() != 31 || got.Month() != time.January {
		t.Fatalf("unexpected UTC boundary: %v", got)
	}

	decEnd := cal.PeriodEnd(2025, time.December)
	if !decEnd.Equal(cal.PeriodStart(2026, time.January)) {
		t.Fatalf("December end must roll into January of the next year, got %v", decEnd)
	}
}

func TestPeriodString(t *testing.T) {
	p := civiltime.Period{Year: 2026, Month: time.January}
	if p.String() != "2026-01" {
		t.Fatalf("unexpected period string: %s", p.String())
	}
}
