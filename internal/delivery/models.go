package delivery

import "time"

// Slot is a dated capacity window for delivering one product.
// Invariant: Reserved <= MaxCapacity, enforced both here and by the schema.
type Slot struct {
	ID          string
	ProductID   string
	Date        time.Time
	MaxCapacity int
	Reserved    int
	Available   bool
}

// CanAccommodate is the single capacity rule for bookings.
func (s Slot) CanAccommodate(qty int) bool {
	return s.Available && qty > 0 && s.Reserved+qty <= s.MaxCapacity
}

// SlotInput is a candidate slot before persistence.
type SlotInput struct {
	Date        time.Time
	MaxCapacity int
}

func day(t time.Time) string { return t.Format("2006-01-02") }
