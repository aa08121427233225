// Package allocation implements the course weight engine: proportional
// distribution of a weight budget across sibling lectures or exams, topic and
// course roll-ups, recalculation planning, and the re-entrancy guard.
package allocation

import (
	"fmt"
	"math"
	"sort"

	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

// DefaultPrecision is the number of decimal places kept when truncating
// all-but-last weights. The last sibling absorbs the remainder so the set
// sums exactly to the budget.
const DefaultPrecision = 6

// Item is one sibling competing for a share of the budget. Basis is the
// proportional quantity: duration for lectures, marks for exams.
type Item struct {
	ID    string
	Basis float64
}

// Assignment is the computed weight for one sibling.
type Assignment struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// Calculator divides a weight budget among sibling items. It is pure: no
// state survives a call, and identical inputs always yield identical outputs.
type Calculator struct {
	factor float64
}

// NewCalculator builds a calculator truncating to the given number of decimal
// places. Non-positive precision falls back to DefaultPrecision.
func NewCalculator(precision int) *Calculator {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Calculator{factor: math.Pow(10, float64(precision))}
}

// Distribute splits budget across items proportional to their basis values.
//
// Policies:
//   - empty set: empty result, the budget has nowhere to go
//   - single item: the item takes the whole budget whatever its basis
//   - all bases zero with two or more items: equal split
//   - otherwise: weight[i] = budget * basis[i] / sum(basis)
//
// All-but-last weights are truncated to the configured precision and the last
// item (last in ascending ID order) absorbs the remainder, so the returned
// weights sum exactly to budget. Negative budget or basis is rejected.
func (c *Calculator) Distribute(budget float64, items []Item) ([]Assignment, error) {
	if budget < 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("budget must be non-negative, got %v", budget))
	}
	for _, item := range items {
		if item.Basis < 0 {
			return nil, appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("basis for %s must be non-negative, got %v", item.ID, item.Basis))
		}
	}
	if len(items) == 0 {
		return []Assignment{}, nil
	}

	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	if len(ordered) == 1 {
		return []Assignment{{ID: ordered[0].ID, Weight: budget}}, nil
	}

	totalBasis := 0.0
	for _, item := range ordered {
		totalBasis += item.Basis
	}

	assignments := make([]Assignment, len(ordered))
	allocated := 0.0
	for i, item := range ordered {
		var share float64
		if totalBasis == 0 {
			share = budget / float64(len(ordered))
		} else {
			share = budget * item.Basis / totalBasis
		}
		if i < len(ordered)-1 {
			share = c.truncate(share)
			allocated += share
			assignments[i] = Assignment{ID: item.ID, Weight: share}
			continue
		}
		// Remainder lands on the last item so the sum is exact.
		assignments[i] = Assignment{ID: item.ID, Weight: budget - allocated}
	}
	return assignments, nil
}

func (c *Calculator) truncate(v float64) float64 {
	return math.Trunc(v*c.factor) / c.factor
}
