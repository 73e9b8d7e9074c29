package ledger

import "errors"

// Business error taxonomy. Every compound operation validates all of its
// preconditions before any mutation; on failure the specific kind is
// returned with zero side effects. Only ErrStorageTimeout is retryable.
var (
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")
	ErrInsufficientUnits    = errors.New("ledger: not enough units available")
	ErrAccountExists        = errors.New("ledger: brokerage account already exists")
	ErrAccountNotFound      = errors.New("ledger: brokerage account not found")
	ErrInstrumentNotFound   = errors.New("ledger: instrument not found")
	ErrProjectNotFound      = errors.New("ledger: project not found")
	ErrOrderNotOpen         = errors.New("ledger: sell order not found or not open")
	ErrNotOrderOwner        = errors.New("ledger: only the order owner may cancel")
	ErrSelfTrade            = errors.New("ledger: cannot buy from your own sell order")
	ErrSelfDonation         = errors.New("ledger: cannot donate to yourself")
	ErrAlreadyDisbursed     = errors.New("ledger: project funds already disbursed")
	ErrNoPayoutDestination  = errors.New("ledger: no payout destination registered")
	ErrInvalidInput         = errors.New("ledger: invalid input")

	// ErrStorageTimeout wraps persistence calls that exceeded their
	// deadline. Callers may retry; all other kinds are terminal for
	// that input.
	ErrStorageTimeout = errors.New("ledger: storage timeout")
)
