package orders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/inventory"
	"github.com/sporehub/marketplace/internal/notify"
	"github.com/sporehub/marketplace/internal/payments"
	"github.com/sporehub/marketplace/internal/postgres"
	"github.com/sporehub/marketplace/internal/wallet"
)

// Store is the order persistence surface. Tx-scoped methods join the
// lifecycle transaction opened by the service.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, o *Order) error
	Get(ctx context.Context, tx pgx.Tx, id string) (*Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Order, error)
	FindByClientRef(ctx context.Context, tx pgx.Tx, ref, buyerID string) (*Order, error)
	InsertItem(ctx context.Context, tx pgx.Tx, it *Item) error
	DeleteItem(ctx context.Context, tx pgx.Tx, itemID string) error
	InsertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error
	SetBookingStatus(ctx context.Context, tx pgx.Tx, bookingID string, st BookingStatus) error
	SetTotal(ctx context.Context, tx pgx.Tx, orderID string, total int64) error
	SetStatus(ctx context.Context, tx pgx.Tx, orderID string, st Status) error
	SetPayment(ctx context.Context, tx pgx.Tx, orderID string, p PaymentLink) error
}

type Catalog interface {
	Product(ctx context.Context, tx pgx.Tx, productID string) (*inventory.Product, error)
}

type Stock interface {
	Reserve(ctx context.Context, tx pgx.Tx, productID string, qty int) error
	Release(ctx context.Context, tx pgx.Tx, productID string, qty int) error
}

type Slots interface {
	BookSlot(ctx context.Context, tx pgx.Tx, slotID string, qty int) (*delivery.Slot, error)
	ReleaseSlot(ctx context.Context, tx pgx.Tx, slotID string, qty int) error
}

type Ledger interface {
	PostSale(ctx context.Context, tx pgx.Tx, orderID string, lines []wallet.SaleLine) error
	ReleaseOnDelivery(ctx context.Context, tx pgx.Tx, orderID string) error
	ReverseSale(ctx context.Context, tx pgx.Tx, orderID string) error
}

// Service drives the order lifecycle. Every mutation runs in one transaction
// spanning order, stock, slot and wallet rows; if any side effect fails the
// whole transition rolls back.
type Service struct {
	Store    Store
	Catalog  Catalog
	Stock    Stock
	Slots    Slots
	Ledger   Ledger
	Gateway  payments.Gateway // nil when no gateway is configured
	Notifier *notify.Notifier
	Auditor  *notify.Auditor
	Tx       postgres.Runner
	HoldTTL  time.Duration
	Currency string
	NewID    func() string
}

func (s *Service) log(orderID string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"component": "orders", "order_id": orderID})
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CreateInput struct {
	ClientRef string
	BuyerID   string
	Delivery  DeliveryDetails
	Items     []ItemInput
}

// Create opens a DRAFT order, reserving stock for any initial items in the
// same transaction. Idempotent on ClientRef: a repeated checkout returns the
// order created the first time.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if in.BuyerID == "" {
		return nil, apperr.New(apperr.KindValidation, "buyer id is required")
	}
	if in.Delivery.Kind == DeliveryHome && in.Delivery.Address == "" {
		return nil, apperr.New(apperr.KindValidation, "home delivery requires an address")
	}
	if in.Delivery.Kind == "" {
		in.Delivery.Kind = DeliveryPickup
	}

	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		if in.ClientRef != "" {
			existing, err := s.Store.FindByClientRef(ctx, tx, in.ClientRef, in.BuyerID)
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				return err
			}
			if existing != nil {
				out = existing
				return nil
			}
		}
		o := &Order{
			ID:        s.NewID(),
			ClientRef: in.ClientRef,
			BuyerID:   in.BuyerID,
			Status:    StatusDraft,
			Delivery:  in.Delivery,
			Payment:   PaymentLink{State: PaymentNone},
		}
		if err := s.Store.Create(ctx, tx, o); err != nil {
			return err
		}
		for _, it := range in.Items {
			if err := s.addItemLocked(ctx, tx, o, it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Auditor.Append("order.created", "order", out.ID, in.BuyerID, "")
	return out, nil
}

// addItemLocked assumes the order row is already locked by this transaction.
func (s *Service) addItemLocked(ctx context.Context, tx pgx.Tx, o *Order, productID string, qty int) error {
	if qty <= 0 {
		return apperr.New(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	p, err := s.Catalog.Product(ctx, tx, productID)
	if err != nil {
		return err
	}
	if p.RequiresSlot {
		return apperr.New(apperr.KindValidation, "product %s requires a delivery slot booking", productID)
	}
	if err := s.Stock.Reserve(ctx, tx, productID, qty); err != nil {
		return err
	}
	it := Item{
		ID:         s.NewID(),
		OrderID:    o.ID,
		ProductID:  productID,
		ProducerID: p.ProducerID,
		Qty:        qty,
		PriceCents: p.PriceCents, // snapshot, never re-read
	}
	if err := s.Store.InsertItem(ctx, tx, &it); err != nil {
		return err
	}
	o.Items = append(o.Items, it)
	o.RecomputeTotal()
	return s.Store.SetTotal(ctx, tx, o.ID, int64(o.Total))
}

func (s *Service) AddItem(ctx context.Context, orderID, productID string, qty int, actor Actor) (*Order, error) {
	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOpenOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		if err := s.addItemLocked(ctx, tx, o, productID, qty); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// AddBooking reserves slot capacity and, when the product also tracks stock,
// decrements stock in the same transaction. With hold set the booking is a
// TEMPORARY one carrying an expiry for the reaper.
func (s *Service) AddBooking(ctx context.Context, orderID, slotID string, qty int, hold bool, actor Actor) (*Order, error) {
	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOpenOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		slot, err := s.Slots.BookSlot(ctx, tx, slotID, qty)
		if err != nil {
			return err
		}
		p, err := s.Catalog.Product(ctx, tx, slot.ProductID)
		if err != nil {
			return err
		}
		if !p.RequiresSlot {
			return apperr.New(apperr.KindValidation, "product %s does not take slot bookings", p.ID)
		}
		if p.TracksStock {
			if err := s.Stock.Reserve(ctx, tx, p.ID, qty); err != nil {
				return err
			}
		}
		b := Booking{
			ID:         s.NewID(),
			SlotID:     slotID,
			OrderID:    o.ID,
			ProductID:  p.ID,
			ProducerID: p.ProducerID,
			Qty:        qty,
			PriceCents: p.PriceCents,
			Status:     BookingPending,
		}
		if hold {
			b.Status = BookingTemporary
			exp := time.Now().UTC().Add(s.HoldTTL)
			b.ExpiresAt = &exp
		}
		if err := s.Store.InsertBooking(ctx, tx, &b); err != nil {
			return err
		}
		o.Bookings = append(o.Bookings, b)
		o.RecomputeTotal()
		if err := s.Store.SetTotal(ctx, tx, o.ID, int64(o.Total)); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) RemoveItem(ctx context.Context, orderID, itemID string, actor Actor) (*Order, error) {
	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOpenOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		idx := -1
		for i, it := range o.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return apperr.New(apperr.KindNotFound, "item %s not on order %s", itemID, orderID)
		}
		it := o.Items[idx]
		if err := s.Stock.Release(ctx, tx, it.ProductID, it.Qty); err != nil {
			return err
		}
		if err := s.Store.DeleteItem(ctx, tx, it.ID); err != nil {
			return err
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		o.RecomputeTotal()
		if err := s.Store.SetTotal(ctx, tx, o.ID, int64(o.Total)); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) RemoveBooking(ctx context.Context, orderID, bookingID string, actor Actor) (*Order, error) {
	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.lockOpenOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		var b *Booking
		for i := range o.Bookings {
			if o.Bookings[i].ID == bookingID {
				b = &o.Bookings[i]
				break
			}
		}
		if b == nil {
			return apperr.New(apperr.KindNotFound, "booking %s not on order %s", bookingID, orderID)
		}
		if b.Status == BookingCancelled {
			return apperr.New(apperr.KindConflict, "booking %s already cancelled", bookingID)
		}
		if err := s.releaseBooking(ctx, tx, b); err != nil {
			return err
		}
		o.RecomputeTotal()
		if err := s.Store.SetTotal(ctx, tx, o.ID, int64(o.Total)); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// releaseBooking reverts slot capacity and any tracked stock, then marks the
// booking cancelled. Caller recomputes the total.
func (s *Service) releaseBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	if err := s.Slots.ReleaseSlot(ctx, tx, b.SlotID, b.Qty); err != nil {
		return err
	}
	p, err := s.Catalog.Product(ctx, tx, b.ProductID)
	if err != nil {
		return err
	}
	if p.TracksStock {
		if err := s.Stock.Release(ctx, tx, b.ProductID, b.Qty); err != nil {
			return err
		}
	}
	if err := s.Store.SetBookingStatus(ctx, tx, b.ID, BookingCancelled); err != nil {
		return err
	}
	b.Status = BookingCancelled
	return nil
}

// Submit moves a draft to PENDING and, when a gateway is configured, creates
// the payment intent first, outside the transaction.
func (s *Service) Submit(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(current.Items) == 0 && len(current.Bookings) == 0 {
		return nil, apperr.New(apperr.KindValidation, "cannot submit an empty order")
	}

	link := PaymentLink{State: PaymentNone}
	if s.Gateway != nil {
		intent, err := s.Gateway.CreateIntent(ctx, current.Total, s.Currency, map[string]string{"order_id": orderID})
		if err != nil {
			return nil, err
		}
		link = PaymentLink{State: PaymentPendingIntent, IntentID: intent.ID}
	}

	var out *Order
	err = s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.Store.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, o, StatusPending); err != nil {
			return err
		}
		if o.Total != current.Total {
			return apperr.New(apperr.KindConflict, "order %s changed during submission", orderID)
		}
		if link.State != PaymentNone {
			if err := s.Store.SetPayment(ctx, tx, orderID, link); err != nil {
				return err
			}
			o.Payment = link
		}
		if err := s.Store.SetStatus(ctx, tx, orderID, StatusPending); err != nil {
			return err
		}
		o.Status = StatusPending
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(out, actor, StatusPending)
	return out, nil
}

// ChangeStatus validates the role-gated transition table and applies the
// status write together with its ledger side effects atomically.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, newStatus Status, actor Actor) (*Order, error) {
	if newStatus == StatusCancelled {
		return s.Cancel(ctx, orderID, actor)
	}
	if newStatus == StatusPending {
		return s.Submit(ctx, orderID, actor)
	}

	// Payment proof is checked against the gateway before the transaction;
	// no network I/O happens while rows are locked.
	if newStatus == StatusConfirmed && s.Gateway != nil {
		current, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.Payment.State == PaymentPendingIntent {
			if err := payments.VerifyPaid(ctx, s.Gateway, current.Payment.IntentID, current.Total); err != nil {
				return nil, err
			}
		}
	}

	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.Store.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, o, newStatus); err != nil {
			return err
		}

		switch newStatus {
		case StatusConfirmed:
			if err := s.Ledger.PostSale(ctx, tx, o.ID, saleLines(o)); err != nil {
				return err
			}
			for i := range o.Bookings {
				b := &o.Bookings[i]
				if b.Status == BookingTemporary || b.Status == BookingPending {
					if err := s.Store.SetBookingStatus(ctx, tx, b.ID, BookingConfirmed); err != nil {
						return err
					}
					b.Status = BookingConfirmed
					b.ExpiresAt = nil
				}
			}
			if o.Payment.State == PaymentPendingIntent {
				captured := PaymentLink{State: PaymentCaptured, IntentID: o.Payment.IntentID}
				if err := s.Store.SetPayment(ctx, tx, o.ID, captured); err != nil {
					return err
				}
				o.Payment = captured
			}
		case StatusDelivered:
			if err := s.Ledger.ReleaseOnDelivery(ctx, tx, o.ID); err != nil {
				return err
			}
		}

		if err := s.Store.SetStatus(ctx, tx, o.ID, newStatus); err != nil {
			return err
		}
		o.Status = newStatus
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(out, actor, newStatus)
	return out, nil
}

// Cancel is idempotent: cancelling an already-cancelled order is a no-op
// success. Otherwise it restores stock and slot reservations and reverses
// any posted-but-unreleased funds, all in one transaction.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	var out *Order
	alreadyCancelled := false
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.Store.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			out, alreadyCancelled = o, true
			return nil
		}
		if err := s.authorize(actor, o, StatusCancelled); err != nil {
			return err
		}

		for _, it := range o.Items {
			if err := s.Stock.Release(ctx, tx, it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		for i := range o.Bookings {
			b := &o.Bookings[i]
			if !b.Active() {
				continue
			}
			if err := s.releaseBooking(ctx, tx, b); err != nil {
				return err
			}
		}
		if err := s.Ledger.ReverseSale(ctx, tx, o.ID); err != nil {
			return err
		}
		if err := s.Store.SetStatus(ctx, tx, o.ID, StatusCancelled); err != nil {
			return err
		}
		o.Status = StatusCancelled
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !alreadyCancelled {
		s.afterTransition(out, actor, StatusCancelled)
	}
	return out, nil
}

// GetOrder loads an order with its items and bookings, without locking.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out *Order
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		o, err := s.Store.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// lockOpenOrder locks the order row and verifies it is still mutable and the
// actor may touch it.
func (s *Service) lockOpenOrder(ctx context.Context, tx pgx.Tx, orderID string, actor Actor) (*Order, error) {
	o, err := s.Store.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleBuyer && o.BuyerID != actor.ID {
		return nil, apperr.New(apperr.KindForbidden, "order %s does not belong to actor", orderID)
	}
	if !o.Status.Open() {
		return nil, apperr.New(apperr.KindConflict, "order %s is %s and cannot be modified", orderID, o.Status)
	}
	return o, nil
}

// authorize applies the transition table once per attempt, distinguishing an
// impossible transition from a role that may not perform it. Buyers must own
// the order; producers must have at least one line on it.
func (s *Service) authorize(actor Actor, o *Order, to Status) error {
	if actor.Role == RoleBuyer && o.BuyerID != actor.ID {
		return apperr.New(apperr.KindForbidden, "order %s does not belong to actor", o.ID)
	}
	if actor.Role == RoleProducer {
		if _, ok := o.ProducerSubtotals()[actor.ID]; !ok {
			return apperr.New(apperr.KindForbidden, "order %s has no lines from producer %s", o.ID, actor.ID)
		}
	}
	if !valid(o.Status, to) {
		return apperr.New(apperr.KindConflict, "invalid transition %s -> %s for order %s", o.Status, to, o.ID)
	}
	if !CanTransition(actor.Role, o.Status, to) {
		return apperr.New(apperr.KindForbidden, "%s may not move order %s from %s to %s", actor.Role, o.ID, o.Status, to)
	}
	return nil
}

func saleLines(o *Order) []wallet.SaleLine {
	subtotals := o.ProducerSubtotals()
	lines := make([]wallet.SaleLine, 0, len(subtotals))
	for producerID, sub := range subtotals {
		lines = append(lines, wallet.SaleLine{ProducerID: producerID, Subtotal: sub})
	}
	return lines
}

// afterTransition emits notification and audit events once the transaction
// has committed. Failures here never affect the order.
func (s *Service) afterTransition(o *Order, actor Actor, to Status) {
	if o == nil {
		return
	}
	s.Notifier.Notify(o.BuyerID, "order."+string(to), map[string]string{"order_id": o.ID})
	s.Auditor.Append("order.status_changed", "order", o.ID, actor.ID, string(to))
	s.log(o.ID).WithFields(logrus.Fields{"status": to, "actor": actor.Role}).Info("order transition")
}
