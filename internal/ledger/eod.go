package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/shared"
)

const (
	markerShopEOD  = "eod:shop:last"
	markerOnBarEOD = "eod:onbar:last"
)

// RunShopEOD copies each active snapshot's closing onto the catalog
// baseline so the next day carries forward even without a snapshot. The
// day's snapshot values are left as they are, and re-running gives the
// same baselines.
func (s *Service) RunShopEOD(ctx context.Context, day, actorID string) (ShopEODResult, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return ShopEODResult{}, err
	}
	var result ShopEODResult
	err = s.inTx(ctx, "shop_eod", func(ctx context.Context, tx TxRepository) error {
		snapshots, err := tx.ListSnapshotsForDate(ctx, date)
		if err != nil {
			return err
		}
		now := s.now()
		updated := []BaselineUpdate{}
		for _, snap := range snapshots {
			if !snap.HasActivity() {
				continue
			}
			product, err := loadProduct(ctx, tx, snap.ProductID)
			if err != nil {
				return err
			}
			if product.PrevStockBaseline != snap.Closing {
				product.PrevStockBaseline = snap.Closing
				product.UpdatedAt = now
				if err := tx.UpdateProduct(ctx, product); err != nil {
					return err
				}
			}
			updated = append(updated, BaselineUpdate{ProductID: snap.ProductID, Baseline: snap.Closing})
		}
		result = ShopEODResult{Date: date, Updated: updated}
		return nil
	})
	if err != nil {
		return ShopEODResult{}, err
	}
	s.mark(ctx, markerShopEOD, date)
	s.logger.InfoContext(ctx, "shop end of day complete", slog.String("date", date), slog.Int("products", len(result.Updated)))
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:shop_eod",
		Entity:   "business_day",
		EntityID: date,
		Meta:     map[string]any{"products": len(result.Updated)},
	})
	return result, nil
}

// RunOnBarEOD archives the sold-today counters of every item and zeroes
// them. Remaining volumes carry into the next day untouched. Items without
// sales are skipped, so a second run changes nothing.
func (s *Service) RunOnBarEOD(ctx context.Context, day, actorID string) (OnBarEODResult, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return OnBarEODResult{}, err
	}
	var result OnBarEODResult
	err = s.inTx(ctx, "onbar_eod", func(ctx context.Context, tx TxRepository) error {
		items, err := tx.ListOnBarItemsForUpdate(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		archived := []OnBarDaily{}
		for _, item := range items {
			if !hasSalesToday(item) {
				continue
			}
			rec := dailyRecord(item, date)
			if err := tx.AddOnBarDaily(ctx, rec); err != nil {
				return err
			}
			item.SalesVolumeToday = 0
			item.SalesValueToday = decimal.Zero
			item.UpdatedAt = now
			if err := tx.UpdateOnBarItem(ctx, item); err != nil {
				return err
			}
			archived = append(archived, rec)
		}
		result = OnBarEODResult{Date: date, Reset: len(archived), Archived: archived}
		return nil
	})
	if err != nil {
		return OnBarEODResult{}, err
	}
	s.mark(ctx, markerOnBarEOD, date)
	if s.metrics != nil {
		s.metrics.SetNeedsOnBarEOD(false)
	}
	s.logger.InfoContext(ctx, "on-bar end of day complete", slog.String("date", date), slog.Int("reset", result.Reset))
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:onbar_eod",
		Entity:   "business_day",
		EntityID: date,
		Meta:     map[string]any{"reset": result.Reset},
	})
	return result, nil
}

// EODStatus reports whether on-bar sales await a rollover and when the
// shop rollover last ran. The flag is advisory only.
func (s *Service) EODStatus(ctx context.Context, day string) (EODStatus, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return EODStatus{}, err
	}
	items, err := s.repo.ListOnBarItems(ctx)
	if err != nil {
		return EODStatus{}, err
	}
	status := EODStatus{Date: date}
	for _, item := range items {
		if hasSalesToday(item) {
			status.NeedsOnBarEOD = true
			break
		}
	}
	if s.cache != nil {
		last, err := s.cache.GetString(ctx, markerShopEOD)
		if err != nil {
			s.logger.WarnContext(ctx, "read shop eod marker", slog.Any("error", err))
		}
		status.LastShopEOD = last
		status.ShopEODDone = last != "" && last >= date
	}
	if s.metrics != nil {
		s.metrics.SetNeedsOnBarEOD(status.NeedsOnBarEOD)
	}
	return status, nil
}

// ListOnBarDaily returns the archived on-bar history of day.
func (s *Service) ListOnBarDaily(ctx context.Context, day string) ([]OnBarDaily, error) {
	date, err := s.resolveDay(day)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]OnBarDaily, error) { return s.repo.ListOnBarDaily(ctx, date) }
	return cached(ctx, s, load, "onbar-daily", date)
}

// mark advances a rollover marker; older dates never overwrite newer ones.
func (s *Service) mark(ctx context.Context, key, date string) {
	if s.cache == nil {
		return
	}
	last, err := s.cache.GetString(ctx, key)
	if err == nil && last >= date {
		return
	}
	if err := s.cache.SetString(ctx, key, date); err != nil {
		s.logger.WarnContext(ctx, "store eod marker", slog.String("key", key), slog.Any("error", err))
	}
}
