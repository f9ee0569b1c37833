package ledger

import (
	"context"

	"github.com/odyssey-erp/barstock/internal/catalog"
)

// Repository is the transactional document store behind the ledger. Every
// mutating operation runs inside WithTx; implementations report optimistic
// concurrency failures as db.ErrConflict so the service can retry.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListGodown(ctx context.Context) ([]GodownStock, error)
	ListSnapshots(ctx context.Context, date string) ([]DailySnapshot, error)
	ListOnBarItems(ctx context.Context) ([]OnBarItem, error)
	GetOnBarItem(ctx context.Context, id string) (OnBarItem, error)
	ListOnBarDaily(ctx context.Context, date string) ([]OnBarDaily, error)
}

// TxRepository exposes the reads and writes available inside a transaction.
// Documents read through ...ForUpdate methods form the transaction's read
// set; a change to any of them before commit aborts the transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id string) (catalog.Product, error)
	InsertProduct(ctx context.Context, product catalog.Product) error
	UpdateProduct(ctx context.Context, product catalog.Product) error

	// GetGodownForUpdate returns a zero-quantity record when none exists.
	GetGodownForUpdate(ctx context.Context, productID string) (GodownStock, error)
	PutGodown(ctx context.Context, stock GodownStock) error

	GetSnapshotForUpdate(ctx context.Context, date, productID string) (DailySnapshot, error)
	// PriorSnapshot returns the latest snapshot strictly before date.
	PriorSnapshot(ctx context.Context, productID, date string) (DailySnapshot, error)
	// LaterSnapshotExists reports whether a snapshot after date exists.
	LaterSnapshotExists(ctx context.Context, productID, date string) (bool, error)
	PutSnapshot(ctx context.Context, snapshot DailySnapshot) error
	ListSnapshotsForDate(ctx context.Context, date string) ([]DailySnapshot, error)

	GetOnBarItemForUpdate(ctx context.Context, id string) (OnBarItem, error)
	ListOnBarItemsForUpdate(ctx context.Context) ([]OnBarItem, error)
	InsertOnBarItem(ctx context.Context, item OnBarItem) error
	UpdateOnBarItem(ctx context.Context, item OnBarItem) error
	DeleteOnBarItem(ctx context.Context, id string) error
	// AddOnBarDaily accumulates sold figures into the (date, item) row.
	AddOnBarDaily(ctx context.Context, record OnBarDaily) error
}
