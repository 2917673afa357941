package corpus

import (
	"fmt"
	"iter"
)

// Grid is the cartesian product of services, years and months that one run
// covers. All bounds are inclusive; the month window applies to every year
// in the range.
type Grid struct {
	Services  []Service
	FromYear  int
	ToYear    int
	FromMonth int
	ToMonth   int
}

// Validate reports the first structural problem with the grid.
func (g Grid) Validate() error {
	if len(g.Services) == 0 {
		return fmt.Errorf("grid has no services")
	}
	for _, s := range g.Services {
		if _, err := ParseService(string(s)); err != nil {
			return err
		}
	}
	if g.FromYear < FirstYear {
		return fmt.Errorf("from_year %d predates the corpus (first year is %d)", g.FromYear, FirstYear)
	}
	if g.ToYear < g.FromYear {
		return fmt.Errorf("to_year %d before from_year %d", g.ToYear, g.FromYear)
	}
	if g.FromMonth < 1 || g.FromMonth > 12 {
		return fmt.Errorf("from_month %d out of range 1-12", g.FromMonth)
	}
	if g.ToMonth < 1 || g.ToMonth > 12 {
		return fmt.Errorf("to_month %d out of range 1-12", g.ToMonth)
	}
	if g.ToMonth < g.FromMonth {
		return fmt.Errorf("to_month %d before from_month %d", g.ToMonth, g.FromMonth)
	}

	return nil
}

// Count returns the exact number of descriptors All yields.
func (g Grid) Count() int {
	years := g.ToYear - g.FromYear + 1
	months := g.ToMonth - g.FromMonth + 1
	if years < 0 || months < 0 {
		return 0
	}

	return len(g.Services) * years * months
}

// All enumerates the grid in a fixed order: service, then year, then month.
// The sequence is pure, touching no clock and no I/O, so ranging over it
// twice yields identical descriptors. It is also lazy: callers can stop
// early without paying for the rest of the grid.
func (g Grid) All() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, svc := range g.Services {
			for year := g.FromYear; year <= g.ToYear; year++ {
				for month := g.FromMonth; month <= g.ToMonth; month++ {
					if !yield(Descriptor{Service: svc, Year: year, Month: month}) {
						return
					}
				}
			}
		}
	}
}
