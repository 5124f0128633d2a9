package orders

import (
	"time"

	"github.com/sporehub/marketplace/internal/money"
)

type Order struct {
	ID        string
	ClientRef string // checkout idempotency key, set by the caller
	BuyerID   string
	Status    Status
	Total     money.Cents
	Delivery  DeliveryDetails
	Payment   PaymentLink
	Items     []Item
	Bookings  []Booking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item keeps the unit price snapshotted at add-time; it is never re-read
// from the product afterwards.
type Item struct {
	ID         string
	OrderID    string
	ProductID  string
	ProducerID string
	Qty        int
	PriceCents money.Cents
}

type BookingStatus string

const (
	BookingTemporary BookingStatus = "TEMPORARY"
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

type Booking struct {
	ID         string
	SlotID     string
	OrderID    string
	ProductID  string
	ProducerID string
	Qty        int
	PriceCents money.Cents
	Status     BookingStatus
	ExpiresAt  *time.Time // set for TEMPORARY holds only
}

func (b Booking) Active() bool { return b.Status != BookingCancelled }

// DeliveryDetails is a tagged variant: pickup orders carry no address.
type DeliveryKind string

const (
	DeliveryPickup DeliveryKind = "PICKUP"
	DeliveryHome   DeliveryKind = "HOME"
)

type DeliveryDetails struct {
	Kind    DeliveryKind
	Address string // home delivery only
}

// PaymentLink is a tagged variant tracking the order's payment-intent linkage.
type PaymentState string

const (
	PaymentNone          PaymentState = "NONE"
	PaymentPendingIntent PaymentState = "PENDING_INTENT"
	PaymentCaptured      PaymentState = "CAPTURED"
)

type PaymentLink struct {
	State    PaymentState
	IntentID string // set unless State == PaymentNone
}

// RecomputeTotal restores invariant: total equals the sum of item and active
// booking line totals. Called after every item/booking mutation.
func (o *Order) RecomputeTotal() {
	var total money.Cents
	for _, it := range o.Items {
		total += it.PriceCents * money.Cents(it.Qty)
	}
	for _, b := range o.Bookings {
		if b.Active() {
			total += b.PriceCents * money.Cents(b.Qty)
		}
	}
	o.Total = total
}

// ProducerSubtotals groups the order's line totals by producer. The wallet
// ledger posts one sale transaction per producer from this split.
func (o *Order) ProducerSubtotals() map[string]money.Cents {
	out := make(map[string]money.Cents)
	for _, it := range o.Items {
		out[it.ProducerID] += it.PriceCents * money.Cents(it.Qty)
	}
	for _, b := range o.Bookings {
		if b.Active() {
			out[b.ProducerID] += b.PriceCents * money.Cents(b.Qty)
		}
	}
	return out
}
