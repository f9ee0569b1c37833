package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/shared"
)

type batchLine struct {
	productID string
	quantity  int64
	unitPrice *decimal.Decimal
}

// productBatch is the per-product view of a bulk request: every line for
// the same product is checked against one godown balance.
type productBatch struct {
	product  catalog.Product
	godown   GodownStock
	quantity int64
	// price is set when the product is new to sale and a line priced it.
	price *decimal.Decimal
}

type batchSet struct {
	order   []string
	batches map[string]*productBatch
}

func validateLine(line batchLine) error {
	if line.productID == "" {
		return fmt.Errorf("%w: product id required", ErrNotFound)
	}
	if line.quantity <= 0 {
		return fmt.Errorf("%w: %s quantity %d", ErrInvalidQuantity, line.productID, line.quantity)
	}
	if line.unitPrice != nil && line.unitPrice.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, line.productID)
	}
	return nil
}

// loadBatches reads product and godown state for every product named by
// the lines and verifies the aggregated quantities fit the godown.
func loadBatches(ctx context.Context, tx TxRepository, lines []batchLine) (*batchSet, error) {
	set := &batchSet{batches: map[string]*productBatch{}}
	for _, line := range lines {
		b, ok := set.batches[line.productID]
		if !ok {
			product, err := loadProduct(ctx, tx, line.productID)
			if err != nil {
				return nil, err
			}
			stock, err := tx.GetGodownForUpdate(ctx, line.productID)
			if err != nil {
				return nil, err
			}
			b = &productBatch{product: product, godown: stock}
			set.batches[line.productID] = b
			set.order = append(set.order, line.productID)
		}
		b.quantity += line.quantity
		if b.price == nil && line.unitPrice != nil && !b.product.HasPrice() {
			b.price = line.unitPrice
		}
	}
	for _, id := range set.order {
		b := set.batches[id]
		if b.quantity > b.godown.Quantity {
			return nil, fmt.Errorf("%w: cannot transfer more than available stock in godown: %d", ErrInsufficientStock, b.godown.Quantity)
		}
		if !b.product.HasPrice() && b.price == nil {
			return nil, fmt.Errorf("%w: %s %s has no price yet", ErrMissingPrice, b.product.Brand, b.product.Size)
		}
	}
	return set, nil
}

// commit writes the new-product price and the reduced godown balance.
func (b *productBatch) commit(ctx context.Context, tx TxRepository, now time.Time) error {
	if b.price != nil {
		price := *b.price
		b.product.UnitPrice = &price
		b.product.UpdatedAt = now
		if err := tx.UpdateProduct(ctx, b.product); err != nil {
			return err
		}
	}
	b.godown.Quantity -= b.quantity
	b.godown.UpdatedAt = now
	return tx.PutGodown(ctx, b.godown)
}

// TransferToShop moves one line from the godown into the shop's daily
// snapshot.
func (s *Service) TransferToShop(ctx context.Context, input ShopTransferInput) (ShopTransferResult, error) {
	if len(input.Lines) != 1 {
		return ShopTransferResult{}, fmt.Errorf("%w: exactly one line expected, got %d", ErrInvalidQuantity, len(input.Lines))
	}
	results, err := s.TransferToShopBulk(ctx, input)
	if err != nil {
		return ShopTransferResult{}, err
	}
	return results[0], nil
}

// TransferToShopBulk moves every line in one transaction. Any failing line
// aborts the whole batch and nothing is written.
func (s *Service) TransferToShopBulk(ctx context.Context, input ShopTransferInput) ([]ShopTransferResult, error) {
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	date, err := s.resolveDay(input.Date)
	if err != nil {
		return nil, err
	}
	lines := make([]batchLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		line := batchLine{productID: l.ProductID, quantity: l.Quantity, unitPrice: l.UnitPrice}
		if err := validateLine(line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	release, err := s.claim(ctx, input.IdempotencyKey, "transfer_shop")
	if err != nil {
		return nil, err
	}
	var results []ShopTransferResult
	err = s.inTx(ctx, "transfer_shop", func(ctx context.Context, tx TxRepository) error {
		set, err := loadBatches(ctx, tx, lines)
		if err != nil {
			return err
		}
		snapshots := make(map[string]DailySnapshot, len(set.order))
		for _, id := range set.order {
			snap, err := snapshotForWrite(ctx, tx, set.batches[id].product, date)
			if err != nil {
				return err
			}
			snapshots[id] = snap
		}

		now := s.now()
		out := make([]ShopTransferResult, 0, len(set.order))
		for _, id := range set.order {
			b := set.batches[id]
			if err := b.commit(ctx, tx, now); err != nil {
				return err
			}
			snap := snapshots[id]
			snap.Added += b.quantity
			snap.UpdatedAt = now
			snap.Recompute()
			if err := tx.PutSnapshot(ctx, snap); err != nil {
				return err
			}
			snap.Persisted = true
			out = append(out, ShopTransferResult{Product: b.product, Godown: b.godown, Snapshot: snap})
		}
		results = out
		return nil
	})
	if err != nil {
		release()
		return nil, err
	}
	for _, r := range results {
		s.record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:transfer_shop",
			Entity:   "daily_snapshot",
			EntityID: date + "/" + r.Product.ID,
			Meta: map[string]any{
				"added":   r.Snapshot.Added,
				"godown":  r.Godown.Quantity,
				"closing": r.Snapshot.Closing,
			},
		})
	}
	return results, nil
}

// TransferToOnBar opens one line of godown stock at the bar.
func (s *Service) TransferToOnBar(ctx context.Context, input OnBarTransferInput) (OnBarTransferResult, error) {
	if len(input.Lines) != 1 {
		return OnBarTransferResult{}, fmt.Errorf("%w: exactly one line expected, got %d", ErrInvalidQuantity, len(input.Lines))
	}
	results, err := s.TransferToOnBarBulk(ctx, input)
	if err != nil {
		return OnBarTransferResult{}, err
	}
	return results[0], nil
}

// TransferToOnBarBulk opens every line in one transaction. Liquor becomes
// one item per bottle; beer becomes one item holding all units of a line.
func (s *Service) TransferToOnBarBulk(ctx context.Context, input OnBarTransferInput) ([]OnBarTransferResult, error) {
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	lines := make([]batchLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		line := batchLine{productID: l.ProductID, quantity: l.Quantity, unitPrice: l.UnitPrice}
		if err := validateLine(line); err != nil {
			return nil, err
		}
		if err := validatePegs(l.PegPrices); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	release, err := s.claim(ctx, input.IdempotencyKey, "transfer_onbar")
	if err != nil {
		return nil, err
	}
	var results []OnBarTransferResult
	err = s.inTx(ctx, "transfer_onbar", func(ctx context.Context, tx TxRepository) error {
		set, err := loadBatches(ctx, tx, lines)
		if err != nil {
			return err
		}
		now := s.now()
		items := make(map[string][]OnBarItem, len(set.order))
		for _, l := range input.Lines {
			b := set.batches[l.ProductID]
			price := b.product.Price()
			if b.price != nil {
				price = *b.price
			}
			opened, err := s.openItems(openRequest{
				productRef: b.product.ID,
				brand:      b.product.Brand,
				size:       b.product.Size,
				category:   b.product.Category,
				quantity:   l.Quantity,
				unitPrice:  price,
				pegs:       l.PegPrices,
			}, now)
			if err != nil {
				return err
			}
			items[l.ProductID] = append(items[l.ProductID], opened...)
		}

		out := make([]OnBarTransferResult, 0, len(set.order))
		for _, id := range set.order {
			b := set.batches[id]
			if err := b.commit(ctx, tx, now); err != nil {
				return err
			}
			for _, item := range items[id] {
				if err := tx.InsertOnBarItem(ctx, item); err != nil {
					return err
				}
			}
			out = append(out, OnBarTransferResult{Godown: b.godown, Items: items[id]})
		}
		results = out
		return nil
	})
	if err != nil {
		release()
		return nil, err
	}
	for _, r := range results {
		s.record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:transfer_onbar",
			Entity:   "godown_stock",
			EntityID: r.Godown.ProductID,
			Meta: map[string]any{
				"items":  len(r.Items),
				"godown": r.Godown.Quantity,
			},
		})
	}
	return results, nil
}
