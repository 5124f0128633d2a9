package wallet

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/money"
	"github.com/sporehub/marketplace/internal/postgres"
)

// Store is the persistence surface of the ledger. Methods taking a pgx.Tx
// join the caller's transaction; the wallet row lock they acquire serializes
// every balance check against every balance mutation.
type Store interface {
	WalletForUpdate(ctx context.Context, tx pgx.Tx, producerID string, create bool) (*Wallet, error)
	WalletByIDForUpdate(ctx context.Context, tx pgx.Tx, walletID string) (*Wallet, error)
	WalletByProducer(ctx context.Context, tx pgx.Tx, producerID string) (*Wallet, error)
	SaveWallet(ctx context.Context, tx pgx.Tx, w *Wallet) error

	// InsertTransaction reports false when a transaction with the same
	// (wallet, order, kind) already exists.
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) (bool, error)
	OrderTransactions(ctx context.Context, tx pgx.Tx, orderID string) ([]Transaction, error)
	// SetTransactionStatus flips status only when it currently equals from.
	SetTransactionStatus(ctx context.Context, tx pgx.Tx, id string, from, to TxStatus) (bool, error)

	HasBankDetails(ctx context.Context, tx pgx.Tx, producerID string) (bool, error)
	InsertWithdrawal(ctx context.Context, tx pgx.Tx, w *Withdrawal) error
	HasPendingWithdrawal(ctx context.Context, tx pgx.Tx, walletID string) (bool, error)
	WithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Withdrawal, error)
	SaveWithdrawal(ctx context.Context, tx pgx.Tx, w *Withdrawal) error
	ListWithdrawals(ctx context.Context, tx pgx.Tx, walletID string) ([]Withdrawal, error)
}

type IDGen func() string

type Service struct {
	Store Store
	Tx    postgres.Runner
	Calc  money.Calculator
	NewID IDGen
}

func (s *Service) log() *logrus.Entry { return logrus.WithField("component", "wallet") }

// PostSale records one pending SALE transaction per producer and credits the
// producer share to pendingBalance. Runs inside the order transition's
// transaction. Posting twice for the same order is a no-op per producer.
func (s *Service) PostSale(ctx context.Context, tx pgx.Tx, orderID string, lines []SaleLine) error {
	// stable wallet lock order across concurrent posts
	sorted := make([]SaleLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProducerID < sorted[j].ProducerID })

	for _, line := range sorted {
		if line.Subtotal <= 0 {
			continue
		}
		w, err := s.Store.WalletForUpdate(ctx, tx, line.ProducerID, true)
		if err != nil {
			return err
		}
		fee := s.Calc.Fee(line.Subtotal)
		share := s.Calc.ProducerShare(line.Subtotal)

		inserted, err := s.Store.InsertTransaction(ctx, tx, &Transaction{
			ID:       s.NewID(),
			WalletID: w.ID,
			OrderID:  orderID,
			Amount:   share,
			Fee:      fee,
			Kind:     KindSale,
			Status:   TxPending,
		})
		if err != nil {
			return err
		}
		if !inserted {
			continue // already posted for this (order, producer)
		}
		w.Pending += share
		if err := s.Store.SaveWallet(ctx, tx, w); err != nil {
			return err
		}
		s.log().WithFields(logrus.Fields{
			"order_id": orderID, "wallet_id": w.ID, "share": int64(share), "fee": int64(fee),
		}).Info("sale posted")
	}
	return nil
}

// ReleaseOnDelivery moves each producer's posted share from pendingBalance to
// balance and bumps totalEarned. The conditional status flip makes a second
// release a no-op, never a double credit.
func (s *Service) ReleaseOnDelivery(ctx context.Context, tx pgx.Tx, orderID string) error {
	txs, err := s.Store.OrderTransactions(ctx, tx, orderID)
	if err != nil {
		return err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].WalletID < txs[j].WalletID })
	for _, t := range txs {
		if t.Kind != KindSale {
			continue
		}
		flipped, err := s.Store.SetTransactionStatus(ctx, tx, t.ID, TxPending, TxCompleted)
		if err != nil {
			return err
		}
		if !flipped {
			continue // already released or reversed
		}
		w, err := s.Store.WalletByIDForUpdate(ctx, tx, t.WalletID)
		if err != nil {
			return err
		}
		if w.Pending < t.Amount {
			return apperr.New(apperr.KindInternal,
				"ledger drift: wallet %s pending %d below sale amount %d", w.ID, w.Pending, t.Amount)
		}
		w.Pending -= t.Amount
		w.Balance += t.Amount
		w.TotalEarned += t.Amount
		if err := s.Store.SaveWallet(ctx, tx, w); err != nil {
			return err
		}
	}
	return nil
}

// ReverseSale backs out posted-but-unreleased funds when an order is
// cancelled. Sales already released stay untouched; reversal is idempotent.
func (s *Service) ReverseSale(ctx context.Context, tx pgx.Tx, orderID string) error {
	txs, err := s.Store.OrderTransactions(ctx, tx, orderID)
	if err != nil {
		return err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].WalletID < txs[j].WalletID })
	for _, t := range txs {
		if t.Kind != KindSale {
			continue
		}
		flipped, err := s.Store.SetTransactionStatus(ctx, tx, t.ID, TxPending, TxReversed)
		if err != nil {
			return err
		}
		if !flipped {
			continue
		}
		w, err := s.Store.WalletByIDForUpdate(ctx, tx, t.WalletID)
		if err != nil {
			return err
		}
		if w.Pending < t.Amount {
			return apperr.New(apperr.KindInternal,
				"ledger drift: wallet %s pending %d below reversal amount %d", w.ID, w.Pending, t.Amount)
		}
		w.Pending -= t.Amount
		if err := s.Store.SaveWallet(ctx, tx, w); err != nil {
			return err
		}
		s.log().WithFields(logrus.Fields{"order_id": orderID, "wallet_id": w.ID}).
			Info("sale reversed")
	}
	return nil
}

// CreateWithdrawal opens a withdrawal request. Balance is only earmarked
// conceptually here; nothing is decremented until an admin completes it.
func (s *Service) CreateWithdrawal(ctx context.Context, producerID string, amount money.Cents) (*Withdrawal, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.KindValidation, "withdrawal amount must be positive")
	}
	var out *Withdrawal
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		hasBank, err := s.Store.HasBankDetails(ctx, tx, producerID)
		if err != nil {
			return err
		}
		if !hasBank {
			return apperr.New(apperr.KindValidation, "producer %s has no bank details configured", producerID)
		}
		w, err := s.Store.WalletForUpdate(ctx, tx, producerID, false)
		if err != nil {
			return err
		}
		pending, err := s.Store.HasPendingWithdrawal(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if pending {
			return apperr.New(apperr.KindConflict, "wallet %s already has a pending withdrawal", w.ID)
		}
		if w.Balance < amount {
			return apperr.New(apperr.KindConflict,
				"insufficient balance: available %s, requested %s", w.Balance.Decimal(), amount.Decimal())
		}
		out = &Withdrawal{
			ID:       s.NewID(),
			WalletID: w.ID,
			Amount:   amount,
			Status:   WithdrawalPending,
		}
		return s.Store.InsertWithdrawal(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionComplete Decision = "complete"
	DecisionReject   Decision = "reject"
)

// ProcessWithdrawal applies an admin decision. Completion re-validates the
// balance under the wallet lock; the balance may have moved since creation.
func (s *Service) ProcessWithdrawal(ctx context.Context, withdrawalID string, decision Decision, note string) (*Withdrawal, error) {
	var out *Withdrawal
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		wd, err := s.Store.WithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if wd.Status != WithdrawalPending && wd.Status != WithdrawalApproved {
			return apperr.New(apperr.KindConflict, "withdrawal %s already resolved (%s)", wd.ID, wd.Status)
		}

		switch decision {
		case DecisionApprove:
			if wd.Status != WithdrawalPending {
				return apperr.New(apperr.KindConflict, "withdrawal %s is not pending", wd.ID)
			}
			wd.Status = WithdrawalApproved

		case DecisionComplete:
			w, err := s.Store.WalletByIDForUpdate(ctx, tx, wd.WalletID)
			if err != nil {
				return err
			}
			if w.Balance < wd.Amount {
				return apperr.New(apperr.KindConflict,
					"insufficient balance at processing time: available %s, requested %s",
					w.Balance.Decimal(), wd.Amount.Decimal())
			}
			w.Balance -= wd.Amount
			w.TotalWithdrawn += wd.Amount
			if err := s.Store.SaveWallet(ctx, tx, w); err != nil {
				return err
			}
			if _, err := s.Store.InsertTransaction(ctx, tx, &Transaction{
				ID:       s.NewID(),
				WalletID: w.ID,
				Amount:   wd.Amount,
				Kind:     KindWithdrawal,
				Status:   TxCompleted,
			}); err != nil {
				return err
			}
			wd.Status = WithdrawalCompleted
			wd.Reference = note

		case DecisionReject:
			if note == "" {
				return apperr.New(apperr.KindValidation, "rejection requires a note")
			}
			wd.Status = WithdrawalRejected
			wd.Note = note

		default:
			return apperr.New(apperr.KindValidation, "unknown decision %q", decision)
		}

		if err := s.Store.SaveWithdrawal(ctx, tx, wd); err != nil {
			return err
		}
		out = wd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary reads a producer's wallet without locking it.
func (s *Service) Summary(ctx context.Context, producerID string) (*Wallet, error) {
	var out *Wallet
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		w, err := s.Store.WalletByProducer(ctx, tx, producerID)
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

// Withdrawals lists a producer's withdrawal history.
func (s *Service) Withdrawals(ctx context.Context, producerID string) ([]Withdrawal, error) {
	var out []Withdrawal
	err := s.Tx.InTx(ctx, func(tx pgx.Tx) error {
		w, err := s.Store.WalletByProducer(ctx, tx, producerID)
		if err != nil {
			return err
		}
		out, err = s.Store.ListWithdrawals(ctx, tx, w.ID)
		return err
	})
	return out, err
}
