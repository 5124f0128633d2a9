package delivery

import (
	"fmt"

	"github.com/sporehub/marketplace/internal/apperr"
)

// Limits caps how much delivery capacity a product may open per calendar day.
type Limits struct {
	MaxSlotsPerDay int
	MaxUnitsPerDay int
}

func (l Limits) withDefaults() Limits {
	if l.MaxSlotsPerDay <= 0 {
		l.MaxSlotsPerDay = 10
	}
	if l.MaxUnitsPerDay <= 0 {
		l.MaxUnitsPerDay = 100
	}
	return l
}

// warnThreshold: a day filled beyond this fraction of the unit ceiling gets a
// warning, not a rejection.
const warnThreshold = 0.8

// ValidateNewSlots checks candidate slots against what already exists for the
// product. It rejects a day that would exceed the slot-count or unit ceiling
// and returns warnings for days crossing 80% of the unit ceiling.
func ValidateNewSlots(candidates []SlotInput, existing []Slot, limits Limits) ([]string, error) {
	limits = limits.withDefaults()

	counts := make(map[string]int)
	units := make(map[string]int)
	for _, s := range existing {
		counts[day(s.Date)]++
		units[day(s.Date)] += s.MaxCapacity
	}
	for i, c := range candidates {
		if c.MaxCapacity <= 0 {
			return nil, apperr.New(apperr.KindValidation, "slot %d: max capacity must be positive", i)
		}
		counts[day(c.Date)]++
		units[day(c.Date)] += c.MaxCapacity
	}

	var warnings []string
	for d, n := range counts {
		if n > limits.MaxSlotsPerDay {
			return nil, apperr.New(apperr.KindConflict,
				"day %s would have %d slots, limit is %d", d, n, limits.MaxSlotsPerDay)
		}
		total := units[d]
		if total > limits.MaxUnitsPerDay {
			return nil, apperr.New(apperr.KindConflict,
				"day %s would have %d units of capacity, limit is %d", d, total, limits.MaxUnitsPerDay)
		}
		if float64(total) > warnThreshold*float64(limits.MaxUnitsPerDay) {
			warnings = append(warnings,
				fmt.Sprintf("day %s at %d of %d units", d, total, limits.MaxUnitsPerDay))
		}
	}
	return warnings, nil
}
