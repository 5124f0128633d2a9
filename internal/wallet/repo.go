package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sporehub/marketplace/internal/apperr"
)

// Repo is the PostgreSQL implementation of Store.
type Repo struct{}

var _ Store = (*Repo)(nil)

const walletColumns = `id, producer_id, balance_cents, pending_cents, total_earned_cents, total_withdrawn_cents, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.ProducerID, &w.Balance, &w.Pending, &w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// WalletForUpdate locks the producer's wallet row, creating it lazily on the
// first sale when create is set.
func (r *Repo) WalletForUpdate(ctx context.Context, tx pgx.Tx, producerID string, create bool) (*Wallet, error) {
	w, err := scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE producer_id=$1 FOR UPDATE`, producerID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Internal(err, "lock wallet")
	}
	if !create {
		return nil, apperr.New(apperr.KindNotFound, "no wallet for producer %s", producerID)
	}
	id := uuid.NewString()
	// ON CONFLICT covers a concurrent first sale for the same producer.
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets(id, producer_id) VALUES ($1, $2)
		ON CONFLICT (producer_id) DO NOTHING`, id, producerID); err != nil {
		return nil, apperr.Internal(err, "create wallet")
	}
	w, err = scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE producer_id=$1 FOR UPDATE`, producerID))
	if err != nil {
		return nil, apperr.Internal(err, "reload wallet")
	}
	return w, nil
}

func (r *Repo) WalletByIDForUpdate(ctx context.Context, tx pgx.Tx, walletID string) (*Wallet, error) {
	w, err := scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id=$1 FOR UPDATE`, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "wallet %s not found", walletID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lock wallet")
	}
	return w, nil
}

func (r *Repo) WalletByProducer(ctx context.Context, tx pgx.Tx, producerID string) (*Wallet, error) {
	w, err := scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE producer_id=$1`, producerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no wallet for producer %s", producerID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "read wallet")
	}
	return w, nil
}

func (r *Repo) SaveWallet(ctx context.Context, tx pgx.Tx, w *Wallet) error {
	if w.Balance < 0 || w.Pending < 0 || w.TotalEarned < 0 || w.TotalWithdrawn < 0 {
		return apperr.New(apperr.KindInternal, "wallet %s would go negative", w.ID)
	}
	_, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance_cents=$2, pending_cents=$3, total_earned_cents=$4, total_withdrawn_cents=$5, updated_at=now()
		WHERE id=$1`,
		w.ID, w.Balance, w.Pending, w.TotalEarned, w.TotalWithdrawn)
	if err != nil {
		return apperr.Internal(err, "save wallet")
	}
	return nil
}

func (r *Repo) InsertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) (bool, error) {
	var orderID any
	if t.OrderID != "" {
		orderID = t.OrderID
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions(id, wallet_id, order_id, amount_cents, fee_cents, kind, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (wallet_id, order_id, kind) WHERE order_id IS NOT NULL DO NOTHING`,
		t.ID, t.WalletID, orderID, t.Amount, t.Fee, t.Kind, t.Status)
	if err != nil {
		return false, apperr.Internal(err, "insert wallet transaction")
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) OrderTransactions(ctx context.Context, tx pgx.Tx, orderID string) ([]Transaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, wallet_id, COALESCE(order_id::text, ''), amount_cents, fee_cents, kind, status, created_at
		FROM wallet_transactions WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, apperr.Internal(err, "list order transactions")
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.OrderID, &t.Amount, &t.Fee, &t.Kind, &t.Status, &t.CreatedAt); err != nil {
			return nil, apperr.Internal(err, "scan transaction")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) SetTransactionStatus(ctx context.Context, tx pgx.Tx, id string, from, to TxStatus) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE wallet_transactions SET status=$3 WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return false, apperr.Internal(err, "update transaction status")
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) HasBankDetails(ctx context.Context, tx pgx.Tx, producerID string) (bool, error) {
	var has bool
	err := tx.QueryRow(ctx,
		`SELECT bank_account IS NOT NULL AND bank_account <> '' FROM producers WHERE id=$1`, producerID).
		Scan(&has)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.New(apperr.KindNotFound, "producer %s not found", producerID)
	}
	if err != nil {
		return false, apperr.Internal(err, "read producer")
	}
	return has, nil
}

func (r *Repo) InsertWithdrawal(ctx context.Context, tx pgx.Tx, w *Withdrawal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO withdrawals(id, wallet_id, amount_cents, status)
		VALUES ($1,$2,$3,$4)`, w.ID, w.WalletID, w.Amount, w.Status)
	if err != nil {
		return apperr.Internal(err, "insert withdrawal")
	}
	return nil
}

func (r *Repo) HasPendingWithdrawal(ctx context.Context, tx pgx.Tx, walletID string) (bool, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM withdrawals WHERE wallet_id=$1 AND status='PENDING'`, walletID).Scan(&n)
	if err != nil {
		return false, apperr.Internal(err, "count pending withdrawals")
	}
	return n > 0, nil
}

func (r *Repo) WithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Withdrawal, error) {
	var w Withdrawal
	var ref, note *string
	err := tx.QueryRow(ctx, `
		SELECT id, wallet_id, amount_cents, status, reference, note, created_at, updated_at
		FROM withdrawals WHERE id=$1 FOR UPDATE`, id).
		Scan(&w.ID, &w.WalletID, &w.Amount, &w.Status, &ref, &note, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lock withdrawal")
	}
	if ref != nil {
		w.Reference = *ref
	}
	if note != nil {
		w.Note = *note
	}
	return &w, nil
}

func (r *Repo) SaveWithdrawal(ctx context.Context, tx pgx.Tx, w *Withdrawal) error {
	_, err := tx.Exec(ctx, `
		UPDATE withdrawals SET status=$2, reference=NULLIF($3,''), note=NULLIF($4,''), updated_at=now()
		WHERE id=$1`, w.ID, w.Status, w.Reference, w.Note)
	if err != nil {
		return apperr.Internal(err, "save withdrawal")
	}
	return nil
}

func (r *Repo) ListWithdrawals(ctx context.Context, tx pgx.Tx, walletID string) ([]Withdrawal, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, wallet_id, amount_cents, status, COALESCE(reference,''), COALESCE(note,''), created_at, updated_at
		FROM withdrawals WHERE wallet_id=$1 ORDER BY created_at DESC`, walletID)
	if err != nil {
		return nil, apperr.Internal(err, "list withdrawals")
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		var w Withdrawal
		if err := rows.Scan(&w.ID, &w.WalletID, &w.Amount, &w.Status, &w.Reference, &w.Note, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, apperr.Internal(err, "scan withdrawal")
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
