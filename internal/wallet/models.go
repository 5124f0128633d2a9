package wallet

import (
	"time"

	"github.com/sporehub/marketplace/internal/money"
)

// Wallet is the per-producer ledger head. All four balances are non-negative
// at all times; mutation happens only through Service inside a transaction
// holding the wallet row lock.
type Wallet struct {
	ID             string
	ProducerID     string
	Balance        money.Cents
	Pending        money.Cents
	TotalEarned    money.Cents
	TotalWithdrawn money.Cents
	UpdatedAt      time.Time
}

type TxKind string

const (
	KindSale       TxKind = "SALE"
	KindWithdrawal TxKind = "WITHDRAWAL"
)

type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxReversed  TxStatus = "REVERSED"
)

// Transaction is one ledger entry. SALE entries are keyed by
// (wallet, order, kind) so reposting is a no-op.
type Transaction struct {
	ID        string
	WalletID  string
	OrderID   string // empty for withdrawals
	Amount    money.Cents
	Fee       money.Cents
	Kind      TxKind
	Status    TxStatus
	CreatedAt time.Time
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
)

type Withdrawal struct {
	ID        string
	WalletID  string
	Amount    money.Cents
	Status    WithdrawalStatus
	Reference string // payment reference, set on completion
	Note      string // rejection reason
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaleLine is one producer's subtotal share of an order, before commission.
type SaleLine struct {
	ProducerID string
	Subtotal   money.Cents
}
