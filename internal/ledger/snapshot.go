package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/platform/db"
	"github.com/odyssey-erp/barstock/internal/shared"
)

// resolveDay defaults an empty day to today and validates the format.
func (s *Service) resolveDay(day string) (string, error) {
	if day == "" {
		return s.Today(), nil
	}
	if _, err := ParseDay(day); err != nil {
		return "", err
	}
	return day, nil
}

// carryForward is the previous closing stock of product before date: the
// latest earlier snapshot's closing, else the catalog baseline.
func carryForward(ctx context.Context, tx TxRepository, product catalog.Product, date string) (int64, error) {
	prior, err := tx.PriorSnapshot(ctx, product.ID, date)
	if errors.Is(err, errSnapshotNotFound) {
		return product.PrevStockBaseline, nil
	}
	if err != nil {
		return 0, err
	}
	return prior.Closing, nil
}

// snapshotForWrite loads the date's snapshot, deriving a new one when none
// is stored. Days already carried into a later snapshot are read-only.
func snapshotForWrite(ctx context.Context, tx TxRepository, product catalog.Product, date string) (DailySnapshot, error) {
	later, err := tx.LaterSnapshotExists(ctx, product.ID, date)
	if err != nil {
		return DailySnapshot{}, err
	}
	if later {
		return DailySnapshot{}, fmt.Errorf("%w: %s on %s", ErrSnapshotFinalized, product.ID, date)
	}
	return snapshotView(ctx, tx, product, date)
}

func snapshotView(ctx context.Context, tx TxRepository, product catalog.Product, date string) (DailySnapshot, error) {
	snap, err := tx.GetSnapshotForUpdate(ctx, date, product.ID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, errSnapshotNotFound) {
		return DailySnapshot{}, err
	}
	prev, err := carryForward(ctx, tx, product, date)
	if err != nil {
		return DailySnapshot{}, err
	}
	snap = DailySnapshot{Date: date, ProductID: product.ID, PrevStock: prev}
	snap.Recompute()
	return snap, nil
}

// view runs a read-only transaction, retrying on conflicts.
func (s *Service) view(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
	if errors.Is(err, db.ErrRetriesExhausted) {
		return fmt.Errorf("%w: read gave up after %d attempts", ErrConcurrencyConflict, s.retry.MaxAttempts)
	}
	return err
}

// SnapshotFor returns the product's figures for day. When nothing was
// recorded yet the result is derived from the carry-forward value and has
// Persisted=false.
func (s *Service) SnapshotFor(ctx context.Context, productID, day string) (DailySnapshot, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return DailySnapshot{}, err
	}
	var snap DailySnapshot
	err = s.view(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		snap, err = snapshotView(ctx, tx, product, date)
		return err
	})
	if err != nil {
		return DailySnapshot{}, err
	}
	return snap, nil
}

// ListSnapshots returns the stored snapshots of day.
func (s *Service) ListSnapshots(ctx context.Context, day string) ([]DailySnapshot, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]DailySnapshot, error) { return s.repo.ListSnapshots(ctx, date) }
	return cached(ctx, s, load, "snapshots", date)
}

// RecordShopSales stores the shop counter's sales figure for the day.
// Figures that push closing below zero are accepted and flagged.
func (s *Service) RecordShopSales(ctx context.Context, productID, day string, sales int64, actorID string) (DailySnapshot, error) {
	if sales < 0 {
		return DailySnapshot{}, fmt.Errorf("%w: sales %d", ErrInvalidQuantity, sales)
	}
	date, err := s.resolveDay(day)
	if err != nil {
		return DailySnapshot{}, err
	}
	var snap DailySnapshot
	err = s.inTx(ctx, "record_shop_sales", func(ctx context.Context, tx TxRepository) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		current, err := snapshotForWrite(ctx, tx, product, date)
		if err != nil {
			return err
		}
		current.Sales = sales
		current.UpdatedAt = s.now()
		current.Recompute()
		if err := tx.PutSnapshot(ctx, current); err != nil {
			return err
		}
		current.Persisted = true
		snap = current
		return nil
	})
	if err != nil {
		return DailySnapshot{}, err
	}
	if snap.Closing < 0 {
		s.logger.WarnContext(ctx, "shop sales exceed available stock",
			slog.String("product_id", productID),
			slog.String("date", date),
			slog.Int64("opening", snap.Opening),
			slog.Int64("sales", sales),
			slog.Int64("closing", snap.Closing),
		)
		if s.metrics != nil {
			s.metrics.NegativeClosing(productID)
		}
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:record_shop_sales",
		Entity:   "daily_snapshot",
		EntityID: date + "/" + productID,
		Meta:     map[string]any{"sales": sales, "closing": snap.Closing},
	})
	return snap, nil
}
