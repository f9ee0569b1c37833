package ledger

import "errors"

var (
	// ErrInsufficientStock indicates a transfer exceeding godown quantity.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInsufficientVolume indicates a sale exceeding the remaining volume.
	ErrInsufficientVolume = errors.New("ledger: insufficient volume")
	// ErrMissingPrice indicates a new product transferred without a price.
	ErrMissingPrice = errors.New("ledger: price required for new product")
	// ErrMissingPegPrice indicates a liquor opening without a 30ml peg price.
	ErrMissingPegPrice = errors.New("ledger: 30ml peg price required")
	// ErrRefillExceedsSold indicates an undo larger than today's sales.
	ErrRefillExceedsSold = errors.New("ledger: refill exceeds sold amount")
	// ErrCapacityExceeded indicates a refill above the item's capacity.
	ErrCapacityExceeded = errors.New("ledger: capacity exceeded")
	// ErrNotFound indicates a missing product, stock or on-bar record.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConcurrencyConflict indicates the transaction retries ran out.
	ErrConcurrencyConflict = errors.New("ledger: concurrent update conflict")
	// ErrInvalidQuantity indicates a non-positive quantity or volume.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = errors.New("ledger: price must be >= 0")
	// ErrInvalidDate indicates a malformed business day.
	ErrInvalidDate = errors.New("ledger: invalid date")
	// ErrInvalidVolume indicates an opened bottle without a parseable size.
	ErrInvalidVolume = errors.New("ledger: size has no volume")
	// ErrCategoryMismatch indicates a peg sale on beer or a unit sale on liquor.
	ErrCategoryMismatch = errors.New("ledger: operation not valid for category")
	// ErrSnapshotFinalized indicates a write to a day already carried forward.
	ErrSnapshotFinalized = errors.New("ledger: snapshot already carried forward")
	// ErrDuplicateRequest indicates a replayed idempotency key.
	ErrDuplicateRequest = errors.New("ledger: request already processed")

	errSnapshotNotFound = errors.New("ledger: snapshot not found")
)
