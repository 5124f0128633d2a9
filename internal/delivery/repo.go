package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/postgres"
)

type Repo struct {
	Limits Limits
}

// CreateSlots validates candidate slots against the product's existing slots
// and inserts them. The product row is locked first so two producers' requests
// for the same product serialize and cannot jointly overshoot the ceilings.
func (r *Repo) CreateSlots(ctx context.Context, tx pgx.Tx, productID string, inputs []SlotInput) ([]Slot, []string, error) {
	if len(inputs) == 0 {
		return nil, nil, apperr.New(apperr.KindValidation, "no slots given")
	}
	var exists bool
	err := tx.QueryRow(ctx, `SELECT true FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, apperr.New(apperr.KindNotFound, "product %s not found", productID)
	}
	if err != nil {
		return nil, nil, apperr.Internal(err, "lock product")
	}

	existing, err := r.slotsForProduct(ctx, tx, productID)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := ValidateNewSlots(inputs, existing, r.Limits)
	if err != nil {
		return nil, nil, err
	}

	out := make([]Slot, 0, len(inputs))
	for _, in := range inputs {
		s := Slot{
			ID:          uuid.NewString(),
			ProductID:   productID,
			Date:        in.Date,
			MaxCapacity: in.MaxCapacity,
			Available:   true,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO delivery_slots(id, product_id, slot_date, max_capacity, reserved, available)
			VALUES ($1,$2,$3,$4,0,true)`,
			s.ID, s.ProductID, s.Date, s.MaxCapacity)
		if err != nil {
			return nil, nil, apperr.Internal(err, "insert slot")
		}
		out = append(out, s)
	}
	return out, warnings, nil
}

func (r *Repo) slotsForProduct(ctx context.Context, tx pgx.Tx, productID string) ([]Slot, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, slot_date, max_capacity, reserved, available
		FROM delivery_slots WHERE product_id=$1`, productID)
	if err != nil {
		return nil, apperr.Internal(err, "list slots")
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Date, &s.MaxCapacity, &s.Reserved, &s.Available); err != nil {
			return nil, apperr.Internal(err, "scan slot")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BookSlot locks the slot row, applies the capacity rule, and bumps the
// reserved counter. Returns the locked slot so the caller can snapshot
// product/pricing data in the same transaction.
func (r *Repo) BookSlot(ctx context.Context, tx pgx.Tx, slotID string, qty int) (*Slot, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	var s Slot
	err := tx.QueryRow(ctx, `
		SELECT id, product_id, slot_date, max_capacity, reserved, available
		FROM delivery_slots WHERE id=$1 FOR UPDATE`, slotID).
		Scan(&s.ID, &s.ProductID, &s.Date, &s.MaxCapacity, &s.Reserved, &s.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "slot %s not found", slotID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lock slot")
	}
	if !s.CanAccommodate(qty) {
		return nil, apperr.New(apperr.KindConflict,
			"booking capacity exceeded for slot %s: reserved %d of %d, requested %d",
			slotID, s.Reserved, s.MaxCapacity, qty)
	}
	if _, err := tx.Exec(ctx, `UPDATE delivery_slots SET reserved = reserved + $2 WHERE id=$1`, slotID, qty); err != nil {
		return nil, apperr.Internal(err, "reserve slot capacity")
	}
	s.Reserved += qty
	return &s, nil
}

// ReleaseSlot reverts a booking's reserved quantity. Conditional so that a
// double release can never drive the counter negative.
func (r *Repo) ReleaseSlot(ctx context.Context, tx pgx.Tx, slotID string, qty int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE delivery_slots SET reserved = reserved - $2 WHERE id=$1 AND reserved >= $2`,
		slotID, qty)
	if err != nil {
		return apperr.Internal(err, "release slot capacity")
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.KindConflict, "slot %s cannot release %d units", slotID, qty)
	}
	return nil
}

// ReleaseExpired cancels TEMPORARY bookings past their expiry, reverting slot
// counters and stock in one transaction. Idempotent: running it twice finds
// nothing left to do. Intended for a periodic external reaper.
//
// Lock order matches the order lifecycle: affected order rows first, then
// booking and slot rows. A hold expiring while its order is being confirmed
// queues behind the confirmation instead of deadlocking against it.
func (r *Repo) ReleaseExpired(ctx context.Context, runner postgres.Runner, now time.Time) (int, error) {
	released := 0
	err := runner.InTx(ctx, func(tx pgx.Tx) error {
		orderRows, err := tx.Query(ctx, `
			SELECT id FROM orders WHERE id IN (
				SELECT order_id FROM bookings WHERE status = 'TEMPORARY' AND expires_at <= $1)
			ORDER BY id
			FOR UPDATE`, now)
		if err != nil {
			return apperr.Internal(err, "lock orders with expired holds")
		}
		var lockedOrders []string
		for orderRows.Next() {
			var id string
			if err := orderRows.Scan(&id); err != nil {
				orderRows.Close()
				return apperr.Internal(err, "scan order id")
			}
			lockedOrders = append(lockedOrders, id)
		}
		orderRows.Close()
		if err := orderRows.Err(); err != nil {
			return apperr.Internal(err, "iterate order ids")
		}
		if len(lockedOrders) == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT b.id, b.slot_id, b.order_id, b.qty, s.product_id, p.tracks_stock
			FROM bookings b
			JOIN delivery_slots s ON s.id = b.slot_id
			JOIN products p ON p.id = s.product_id
			WHERE b.status = 'TEMPORARY' AND b.expires_at <= $1 AND b.order_id = ANY($2)
			FOR UPDATE OF b, s`, now, lockedOrders)
		if err != nil {
			return apperr.Internal(err, "find expired holds")
		}
		type hold struct {
			bookingID, slotID, orderID, productID string
			qty                                   int
			tracksStock                           bool
		}
		var holds []hold
		for rows.Next() {
			var h hold
			if err := rows.Scan(&h.bookingID, &h.slotID, &h.orderID, &h.qty, &h.productID, &h.tracksStock); err != nil {
				rows.Close()
				return apperr.Internal(err, "scan expired hold")
			}
			holds = append(holds, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperr.Internal(err, "iterate expired holds")
		}

		orderIDs := make(map[string]bool)
		for _, h := range holds {
			// conditional flip: only a still-TEMPORARY hold releases capacity
			ct, err := tx.Exec(ctx,
				`UPDATE bookings SET status='CANCELLED' WHERE id=$1 AND status='TEMPORARY'`, h.bookingID)
			if err != nil {
				return apperr.Internal(err, "cancel expired booking")
			}
			if ct.RowsAffected() != 1 {
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE delivery_slots SET reserved = GREATEST(reserved - $2, 0) WHERE id=$1`,
				h.slotID, h.qty); err != nil {
				return apperr.Internal(err, "revert slot reservation")
			}
			if h.tracksStock {
				if _, err := tx.Exec(ctx,
					`UPDATE stock SET quantity = quantity + $2, updated_at = now() WHERE product_id=$1`,
					h.productID, h.qty); err != nil {
					return apperr.Internal(err, "restore stock")
				}
			}
			orderIDs[h.orderID] = true
			released++
		}

		// Keep order totals consistent with their surviving lines.
		for id := range orderIDs {
			if _, err := tx.Exec(ctx, `
				UPDATE orders SET total_cents =
					COALESCE((SELECT SUM(qty * price_cents) FROM order_items WHERE order_id=$1), 0) +
					COALESCE((SELECT SUM(qty * price_cents) FROM bookings WHERE order_id=$1 AND status <> 'CANCELLED'), 0),
					updated_at = now()
				WHERE id=$1`, id); err != nil {
				return apperr.Internal(err, "recompute order total")
			}
		}
		return nil
	})
	return released, err
}
