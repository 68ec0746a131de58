// Package earnings groups approved matching records into calendar months.
//
// Aggregation is a pure function of its input. Months without approved
// records never get an entry; lookups for such months return a zero total
// with an empty, non-nil matchings slice. Totals saturate at the bounds of
// core.Yen instead of wrapping.
package earnings

import (
	"math"
	"sort"

	"invoicer/internal/core"
)

// Summary holds monthly earnings keyed by calendar month.
type Summary struct {
	months map[core.MonthKey]core.MonthlyEarnings
}

// Aggregate groups approved records by the true (year, month) of their date.
// Records with any other status are ignored.
func Aggregate(records []core.MatchingRecord) Summary {
	months := make(map[core.MonthKey]core.MonthlyEarnings)
	for _, r := range records {
		if !r.Approved() {
			continue
		}
		key := r.Date.Key()
		m := months[key]
		m.Key = key
		m.Total = addYen(m.Total, r.Amount)
		m.Matchings = append(m.Matchings, r)
		months[key] = m
	}
	for key, m := range months {
		sortMatchings(m.Matchings)
		months[key] = m
	}
	return Summary{months: months}
}

func sortMatchings(ms []core.MatchingRecord) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date.Time) {
			return ms[i].Date.Before(ms[j].Date.Time)
		}
		return ms[i].ID < ms[j].ID
	})
}

// Len returns the number of months with at least one approved record.
func (s Summary) Len() int {
	return len(s.months)
}

// Month returns the earnings of one month. Months without approved records
// yield a zero total and an empty matchings slice.
func (s Summary) Month(key core.MonthKey) core.MonthlyEarnings {
	if m, ok := s.months[key]; ok {
		return copyMonth(m)
	}
	return core.MonthlyEarnings{Key: key, Matchings: []core.MatchingRecord{}}
}

// Months returns every populated month in chronological order.
func (s Summary) Months() []core.MonthlyEarnings {
	keys := make([]core.MonthKey, 0, len(s.months))
	for k := range s.months {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := make([]core.MonthlyEarnings, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyMonth(s.months[k]))
	}
	return out
}

// Year returns January through December of year, zero-filling empty months.
func (s Summary) Year(year int) []core.MonthlyEarnings {
	out := make([]core.MonthlyEarnings, 0, 12)
	for m := 1; m <= 12; m++ {
		out = append(out, s.Month(core.MonthKey{Year: year, Month: m}))
	}
	return out
}

// YearTotal sums the monthly totals of the given year.
func (s Summary) YearTotal(year int) core.Yen {
	var total core.Yen
	for k, m := range s.months {
		if k.Year == year {
			total = addYen(total, m.Total)
		}
	}
	return total
}

// Total sums every monthly total.
func (s Summary) Total() core.Yen {
	var total core.Yen
	for _, m := range s.months {
		total = addYen(total, m.Total)
	}
	return total
}

// Years lists the years that have earnings, ascending.
func (s Summary) Years() []int {
	seen := make(map[int]struct{})
	for k := range s.months {
		seen[k.Year] = struct{}{}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func addYen(a, b core.Yen) core.Yen {
	switch {
	case b > 0 && a > core.Yen(math.MaxInt64)-b:
		return core.Yen(math.MaxInt64)
	case b < 0 && a < core.Yen(math.MinInt64)-b:
		return core.Yen(math.MinInt64)
	}
	return a + b
}

func copyMonth(m core.MonthlyEarnings) core.MonthlyEarnings {
	m.Matchings = append([]core.MatchingRecord(nil), m.Matchings...)
	return m
}
