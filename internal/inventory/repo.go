package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/money"
)

type Product struct {
	ID           string
	ProducerID   string
	Name         string
	PriceCents   money.Cents
	RequiresSlot bool
	TracksStock  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repo mutates stock rows. Reserve and Release are transaction-scoped on
// purpose: a stock change only ever happens paired with an order mutation,
// inside that mutation's transaction.
type Repo struct{}

func (r *Repo) Product(ctx context.Context, tx pgx.Tx, productID string) (*Product, error) {
	var p Product
	err := tx.QueryRow(ctx, `
		SELECT id, producer_id, name, price_cents, requires_slot, tracks_stock, created_at, updated_at
		FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.ProducerID, &p.Name, &p.PriceCents, &p.RequiresSlot, &p.TracksStock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "product %s not found", productID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load product")
	}
	return &p, nil
}

// Reserve locks the stock row and decrements it only if enough quantity is
// left. Two concurrent checkouts against the same row cannot both succeed
// past availability.
func (r *Repo) Reserve(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	if qty <= 0 {
		return apperr.New(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	var available int
	err := tx.QueryRow(ctx, `SELECT quantity FROM stock WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "no stock row for product %s", productID)
	}
	if err != nil {
		return apperr.Internal(err, "lock stock")
	}
	if available < qty {
		return apperr.New(apperr.KindConflict,
			"insufficient stock for product %s: available %d, requested %d", productID, available, qty)
	}
	ct, err := tx.Exec(ctx, `UPDATE stock SET quantity = quantity - $2, updated_at = now() WHERE product_id=$1`,
		productID, qty)
	if err != nil {
		return apperr.Internal(err, "decrement stock")
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.KindInternal, "stock update affected %d rows", ct.RowsAffected())
	}
	return nil
}

// Release increments stock unconditionally; used on cancellation and when a
// temporary hold expires.
func (r *Repo) Release(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	if qty <= 0 {
		return apperr.New(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	ct, err := tx.Exec(ctx, `UPDATE stock SET quantity = quantity + $2, updated_at = now() WHERE product_id=$1`,
		productID, qty)
	if err != nil {
		return apperr.Internal(err, "increment stock")
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.KindNotFound, "no stock row for product %s", productID)
	}
	return nil
}

// Quantity reads current stock outside any reservation flow.
func (r *Repo) Quantity(ctx context.Context, q Querier, productID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT quantity FROM stock WHERE product_id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.New(apperr.KindNotFound, "no stock row for product %s", productID)
	}
	if err != nil {
		return 0, apperr.Internal(err, "read stock")
	}
	return n, nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
