package orders

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleProducer Role = "producer"
	RoleAdmin    Role = "admin"
)

type Actor struct {
	ID   string
	Role Role
}

var validNext = map[Status]map[Status]bool{
	StatusDraft:     {StatusPending: true},
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// valid reports whether from -> to appears in the transition table at all,
// regardless of who asks.
func valid(from, to Status) bool { return validNext[from][to] }

// CanTransition is the single authorization point for status changes.
// Producers drive fulfillment forward and may cancel before delivery;
// buyers may only cancel a PENDING order (and submit their draft);
// admins may apply any valid transition.
func CanTransition(role Role, from, to Status) bool {
	if !valid(from, to) {
		return false
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleProducer:
		if to == StatusCancelled {
			return from == StatusPending || from == StatusConfirmed || from == StatusShipped
		}
		switch {
		case from == StatusPending && to == StatusConfirmed,
			from == StatusConfirmed && to == StatusShipped,
			from == StatusShipped && to == StatusDelivered:
			return true
		}
		return false
	case RoleBuyer:
		return (from == StatusDraft && to == StatusPending) ||
			(from == StatusPending && to == StatusCancelled)
	}
	return false
}

// Open reports whether items and bookings may still be mutated.
func (s Status) Open() bool { return s == StatusDraft || s == StatusPending }

func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusDraft, StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return Status(s), true
	}
	return "", false
}
