package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/duration"
)

const SingleTitle = "Project Completion"

type Item struct {
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     time.Time
	OrderIndex  int
}

type Params struct {
	Start    time.Time
	End      time.Time
	Total    decimal.Decimal
	Duration string
}

type Options struct {
	// AbsorbResidue makes the last item carry total minus the other items so
	// the schedule sums exactly to the contract amount. The other items are
	// then rounded down, so the residue is never negative.
	AbsorbResidue bool
}

// Generate sizes and spaces the milestone schedule of a new contract.
func Generate(p Params, opts Options) []Item {
	days := DaysBetween(p.Start, p.End)

	var n int
	hint := duration.Hint(p.Duration)
	switch hint {
	case duration.HintWeekly:
		n = clamp(days/7+1, 2, 4)
	case duration.HintMonthly:
		n = clamp(days/30+1, 2, 6)
	default:
		return []Item{{
			Title:       SingleTitle,
			Description: "Full delivery of the contracted work",
			Amount:      p.Total,
			DueDate:     p.End,
			OrderIndex:  1,
		}}
	}

	parts := decimal.NewFromInt(int64(n))
	share := p.Total.DivRound(parts, 2)
	if opts.AbsorbResidue {
		share = p.Total.Div(parts).RoundDown(2)
	}
	step := days / n
	if step < 1 {
		step = 1
	}

	items := make([]Item, 0, n)
	allocated := decimal.Zero
	for i := 1; i <= n; i++ {
		amount := share
		if i == n && opts.AbsorbResidue {
			amount = p.Total.Sub(allocated)
		}
		allocated = allocated.Add(amount)

		due := p.Start.AddDate(0, 0, step*i)
		if due.After(p.End) {
			due = p.End
		}
		items = append(items, Item{
			Title:       fmt.Sprintf("Milestone %d", i),
			Description: fmt.Sprintf("%s phase %d of %d", hint, i, n),
			Amount:      amount,
			DueDate:     due,
			OrderIndex:  i,
		})
	}
	return items
}

// DaysBetween counts whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	s := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

// Sum totals the amounts of items.
func Sum(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
