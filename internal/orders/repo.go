package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sporehub/marketplace/internal/apperr"
)

// Repo is the PostgreSQL implementation of Store.
type Repo struct{}

var _ Store = (*Repo)(nil)

const orderColumns = `id, COALESCE(client_ref,''), buyer_id, status, total_cents,
	delivery_type, COALESCE(delivery_address,''), payment_state, COALESCE(payment_intent_id,''),
	created_at, updated_at`

func (r *Repo) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ClientRef, &o.BuyerID, &o.Status, &o.Total,
		&o.Delivery.Kind, &o.Delivery.Address, &o.Payment.State, &o.Payment.IntentID,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) Create(ctx context.Context, tx pgx.Tx, o *Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders(id, client_ref, buyer_id, status, total_cents, delivery_type, delivery_address, payment_state, payment_intent_id)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,''), $8, NULLIF($9,''))`,
		o.ID, o.ClientRef, o.BuyerID, o.Status, o.Total,
		o.Delivery.Kind, o.Delivery.Address, o.Payment.State, o.Payment.IntentID)
	if err != nil {
		return apperr.Internal(err, "insert order")
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, tx pgx.Tx, id string) (*Order, error) {
	o, err := r.scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load order")
	}
	return o, r.loadLines(ctx, tx, o)
}

// GetForUpdate takes the order row lock that serializes concurrent lifecycle
// operations on the same order.
func (r *Repo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Order, error) {
	o, err := r.scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lock order")
	}
	return o, r.loadLines(ctx, tx, o)
}

// FindByClientRef is scoped per buyer so one buyer's retry can never surface
// another buyer's order on a client_ref collision.
func (r *Repo) FindByClientRef(ctx context.Context, tx pgx.Tx, ref, buyerID string) (*Order, error) {
	o, err := r.scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE client_ref=$1 AND buyer_id=$2`, ref, buyerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no order for client ref %s", ref)
	}
	if err != nil {
		return nil, apperr.Internal(err, "find order by client ref")
	}
	return o, r.loadLines(ctx, tx, o)
}

func (r *Repo) loadLines(ctx context.Context, tx pgx.Tx, o *Order) error {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, product_id, producer_id, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return apperr.Internal(err, "load order items")
	}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProducerID, &it.Qty, &it.PriceCents); err != nil {
			rows.Close()
			return apperr.Internal(err, "scan order item")
		}
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Internal(err, "iterate order items")
	}

	rows, err = tx.Query(ctx, `
		SELECT id, slot_id, order_id, product_id, producer_id, qty, price_cents, status, expires_at
		FROM bookings WHERE order_id=$1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return apperr.Internal(err, "load bookings")
	}
	defer rows.Close()
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.SlotID, &b.OrderID, &b.ProductID, &b.ProducerID,
			&b.Qty, &b.PriceCents, &b.Status, &b.ExpiresAt); err != nil {
			return apperr.Internal(err, "scan booking")
		}
		o.Bookings = append(o.Bookings, b)
	}
	return rows.Err()
}

func (r *Repo) InsertItem(ctx context.Context, tx pgx.Tx, it *Item) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, producer_id, qty, price_cents)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		it.ID, it.OrderID, it.ProductID, it.ProducerID, it.Qty, it.PriceCents)
	if err != nil {
		return apperr.Internal(err, "insert order item")
	}
	return nil
}

func (r *Repo) DeleteItem(ctx context.Context, tx pgx.Tx, itemID string) error {
	ct, err := tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1`, itemID)
	if err != nil {
		return apperr.Internal(err, "delete order item")
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.KindNotFound, "order item %s not found", itemID)
	}
	return nil
}

func (r *Repo) InsertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings(id, slot_id, order_id, product_id, producer_id, qty, price_cents, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.SlotID, b.OrderID, b.ProductID, b.ProducerID, b.Qty, b.PriceCents, b.Status, b.ExpiresAt)
	if err != nil {
		return apperr.Internal(err, "insert booking")
	}
	return nil
}

func (r *Repo) SetBookingStatus(ctx context.Context, tx pgx.Tx, bookingID string, st BookingStatus) error {
	ct, err := tx.Exec(ctx, `UPDATE bookings SET status=$2, expires_at=NULL WHERE id=$1`, bookingID, st)
	if err != nil {
		return apperr.Internal(err, "update booking status")
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.KindNotFound, "booking %s not found", bookingID)
	}
	return nil
}

func (r *Repo) SetTotal(ctx context.Context, tx pgx.Tx, orderID string, total int64) error {
	_, err := tx.Exec(ctx, `UPDATE orders SET total_cents=$2, updated_at=now() WHERE id=$1`, orderID, total)
	if err != nil {
		return apperr.Internal(err, "update order total")
	}
	return nil
}

func (r *Repo) SetStatus(ctx context.Context, tx pgx.Tx, orderID string, st Status) error {
	_, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, st)
	if err != nil {
		return apperr.Internal(err, "update order status")
	}
	return nil
}

func (r *Repo) SetPayment(ctx context.Context, tx pgx.Tx, orderID string, p PaymentLink) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET payment_state=$2, payment_intent_id=NULLIF($3,''), updated_at=now() WHERE id=$1`,
		orderID, p.State, p.IntentID)
	if err != nil {
		return apperr.Internal(err, "update order payment link")
	}
	return nil
}
