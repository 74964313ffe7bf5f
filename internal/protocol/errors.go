package protocol

import "errors"

var (
	// ErrNotFound is returned for queries against an id the ledger has
	// never assigned (all-zero record sentinel).
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is surfaced by pre-flight balance checks
	// before any transaction is submitted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSettlementUnverified means the settle transaction confirmed but
	// the shares could not be established: the receipt carried no
	// settlement event and the pre-transaction state read had failed.
	// The error message carries the tx hash; callers re-query the escrow.
	ErrSettlementUnverified = errors.New("settlement confirmed but unverified")
)
