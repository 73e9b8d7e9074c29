// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the closed set of balance-affecting operation types.
type TransactionKind string

const (
	KindBuy                 TransactionKind = "BUY"
	KindSell                TransactionKind = "SELL"
	KindDeposit             TransactionKind = "DEPOSIT"
	KindWithdraw            TransactionKind = "WITHDRAW"
	KindDonationSent        TransactionKind = "DONATION_SENT"
	KindDonationReceived    TransactionKind = "DONATION_RECEIVED"
	KindProjectFunding      TransactionKind = "PROJECT_FUNDING"
	KindProjectDisbursement TransactionKind = "PROJECT_DISBURSEMENT"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// OrderStatus is the lifecycle state of a secondary-market sell order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderClosed   OrderStatus = "CLOSED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Account is a user's brokerage account: one cash balance per user.
// Balance is mutated only by the ledger engine inside an atomic operation
// and is never negative after an operation commits.
type Account struct {
	UserID            string          `json:"user_id" db:"user_id"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	PayoutDestination string          `json:"payout_destination,omitempty" db:"payout_destination"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Instrument is a tokenized artwork's fractional-ownership unit pool.
// Invariant: UnitsAvailable + UnitsSold == TotalUnits at all times.
type Instrument struct {
	ID             string          `json:"id" db:"id"`
	ArtworkID      string          `json:"artwork_id" db:"artwork_id"`
	ArtistID       string          `json:"artist_id" db:"artist_id"`
	ContractAddr   string          `json:"contract_addr" db:"contract_addr"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"` // primary-market price per unit
	TotalUnits     int64           `json:"total_units" db:"total_units"`
	UnitsAvailable int64           `json:"units_available" db:"units_available"`
	UnitsSold      int64           `json:"units_sold" db:"units_sold"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a user's quantity of units in one instrument plus cost basis.
// Unique per (user, instrument); deleted when quantity reaches zero.
type Holding struct {
	UserID           string          `json:"user_id" db:"user_id"`
	InstrumentID     string          `json:"instrument_id" db:"instrument_id"`
	Quantity         int64           `json:"quantity" db:"quantity"`
	AvgPurchasePrice decimal.Decimal `json:"avg_purchase_price" db:"avg_purchase_price"`
}

// SellOrder is a secondary-market offer to sell instrument units.
// Quantity decrements on partial fills; status transitions to Closed at zero.
type SellOrder struct {
	ID           string          `json:"id" db:"id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	Status       OrderStatus     `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable audit record of one balance movement.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Kind           TransactionKind   `json:"kind" db:"kind"`
	InstrumentID   string            `json:"instrument_id,omitempty" db:"instrument_id"`
	UnitQuantity   int64             `json:"unit_quantity,omitempty" db:"unit_quantity"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Status         TransactionStatus `json:"status" db:"status"`
	CounterpartyID string            `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Timestamp      time.Time         `json:"timestamp" db:"timestamp"`
}

// Project is a crowdfunding campaign owned by an artist. Once AmountRaised
// reaches FundingGoal the raised funds are disbursed to the owner exactly once.
type Project struct {
	ID             string          `json:"id" db:"id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	Title          string          `json:"title" db:"title"`
	FundingGoal    decimal.Decimal `json:"funding_goal" db:"funding_goal"`
	AmountRaised   decimal.Decimal `json:"amount_raised" db:"amount_raised"`
	FundsDisbursed bool            `json:"funds_disbursed" db:"funds_disbursed"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
