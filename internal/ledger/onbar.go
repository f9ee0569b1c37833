package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/shared"
)

const (
	pegSmall = 30
	pegLarge = 60
)

var two = decimal.NewFromInt(2)

type openRequest struct {
	productRef  string
	brand       string
	size        string
	category    catalog.Category
	totalVolume int64
	quantity    int64
	unitPrice   decimal.Decimal
	pegs        PegPrices
}

func validatePegs(pegs PegPrices) error {
	if pegs.Peg30 != nil && pegs.Peg30.IsNegative() {
		return fmt.Errorf("%w: 30ml peg", ErrInvalidPrice)
	}
	if pegs.Peg60 != nil && pegs.Peg60.IsNegative() {
		return fmt.Errorf("%w: 60ml peg", ErrInvalidPrice)
	}
	return nil
}

// openItems builds the on-bar records for one opening.
func (s *Service) openItems(req openRequest, now time.Time) ([]OnBarItem, error) {
	base := OnBarItem{
		ProductRef: req.productRef,
		Brand:      req.brand,
		Size:       req.size,
		Category:   req.category,
		UnitPrice:  req.unitPrice,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	if !req.category.IsLiquor() {
		item := base
		item.ID = s.newID()
		item.TotalVolume = req.quantity
		item.RemainingVolume = req.quantity
		item.OpenedQuantity = req.quantity
		return []OnBarItem{item}, nil
	}

	if req.pegs.Peg30 == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrMissingPegPrice, req.brand, req.size)
	}
	peg30 := *req.pegs.Peg30
	peg60 := peg30.Mul(two)
	if req.pegs.Peg60 != nil {
		peg60 = *req.pegs.Peg60
	}
	volume := req.totalVolume
	if volume <= 0 {
		parsed, err := catalog.ParseVolume(req.size)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVolume, req.size)
		}
		volume = parsed
	}
	items := make([]OnBarItem, 0, req.quantity)
	for i := int64(0); i < req.quantity; i++ {
		item := base
		item.ID = s.newID()
		item.TotalVolume = volume
		item.RemainingVolume = volume
		item.OpenedQuantity = 1
		p30, p60 := peg30, peg60
		item.PegPrice30, item.PegPrice60 = &p30, &p60
		items = append(items, item)
	}
	return items, nil
}

// OpenManual records untracked items entered by hand; the godown is not
// touched.
func (s *Service) OpenManual(ctx context.Context, input ManualOpenInput) ([]OnBarItem, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if err := validatePegs(input.PegPrices); err != nil {
		return nil, err
	}
	category, err := catalog.ParseCategory(input.Category)
	if err != nil {
		return nil, err
	}
	product, err := catalog.NewProduct(input.Brand, input.Size, category, nil, s.now())
	if err != nil {
		return nil, err
	}

	var items []OnBarItem
	err = s.inTx(ctx, "open_manual", func(ctx context.Context, tx TxRepository) error {
		opened, err := s.openItems(openRequest{
			productRef:  ManualProductRef,
			brand:       product.Brand,
			size:        product.Size,
			category:    category,
			totalVolume: input.TotalVolume,
			quantity:    input.Quantity,
			unitPrice:   input.UnitPrice,
			pegs:        input.PegPrices,
		}, s.now())
		if err != nil {
			return err
		}
		for _, item := range opened {
			if err := tx.InsertOnBarItem(ctx, item); err != nil {
				return err
			}
		}
		items = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		s.record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:open_manual",
			Entity:   "onbar_item",
			EntityID: item.ID,
			Meta:     map[string]any{"brand": item.Brand, "size": item.Size, "total_volume": item.TotalVolume},
		})
	}
	return items, nil
}

// pegPrice prices a pour of volume ml: fixed peg prices for 30 and 60 ml,
// pro-rata on the 30ml peg otherwise, else pro-rata on the bottle price.
func pegPrice(item OnBarItem, volume int64) decimal.Decimal {
	v := decimal.NewFromInt(volume)
	switch {
	case volume == pegSmall && item.PegPrice30 != nil:
		return *item.PegPrice30
	case volume == pegLarge && item.PegPrice60 != nil:
		return *item.PegPrice60
	case volume == pegLarge && item.PegPrice30 != nil:
		return item.PegPrice30.Mul(two)
	case item.PegPrice30 != nil:
		return item.PegPrice30.Div(decimal.NewFromInt(pegSmall)).Mul(v).Round(2)
	case item.TotalVolume > 0:
		return item.UnitPrice.Div(decimal.NewFromInt(item.TotalVolume)).Mul(v).Round(2)
	default:
		return decimal.Zero
	}
}

// SellPeg pours volume ml from a liquor item.
func (s *Service) SellPeg(ctx context.Context, input SaleInput) (SaleResult, error) {
	return s.sell(ctx, input, false)
}

// SellBeer sells units from a beer item.
func (s *Service) SellBeer(ctx context.Context, input SaleInput) (SaleResult, error) {
	return s.sell(ctx, input, true)
}

func (s *Service) sell(ctx context.Context, input SaleInput, beer bool) (SaleResult, error) {
	if input.Volume <= 0 {
		return SaleResult{}, ErrInvalidQuantity
	}
	if input.Price != nil && input.Price.IsNegative() {
		return SaleResult{}, ErrInvalidPrice
	}
	op := "sell_peg"
	if beer {
		op = "sell_beer"
	}
	var result SaleResult
	err := s.inTx(ctx, op, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetOnBarItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		if item.IsBeer() != beer {
			return fmt.Errorf("%w: %s is %s", ErrCategoryMismatch, item.ID, item.Category)
		}
		if item.RemainingVolume < input.Volume {
			return fmt.Errorf("%w: only %d left in %s %s", ErrInsufficientVolume, item.RemainingVolume, item.Brand, item.Size)
		}
		var price decimal.Decimal
		switch {
		case input.Price != nil:
			price = input.Price.Round(2)
		case beer:
			price = item.UnitPrice.Mul(decimal.NewFromInt(input.Volume)).Round(2)
		default:
			price = pegPrice(item, input.Volume)
		}
		item.RemainingVolume -= input.Volume
		item.SalesVolumeToday += input.Volume
		item.SalesValueToday = item.SalesValueToday.Add(price)
		item.UpdatedAt = s.now()
		if err := tx.UpdateOnBarItem(ctx, item); err != nil {
			return err
		}
		result = SaleResult{Item: item, Price: price}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "ledger:" + op,
		Entity:   "onbar_item",
		EntityID: input.ItemID,
		Meta:     map[string]any{"volume": input.Volume, "price": result.Price.String(), "remaining": result.Item.RemainingVolume},
	})
	return result, nil
}

// Refill undoes part of today's sales on an item. Beer always returns one
// unit at the unit price; liquor refunds at the day's average realised rate.
// Undoing everything sold today clears the day's value completely.
func (s *Service) Refill(ctx context.Context, itemID string, amount int64, actorID string) (RefillResult, error) {
	var result RefillResult
	err := s.inTx(ctx, "refill", func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetOnBarItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		qty := amount
		if item.IsBeer() {
			qty = 1
		}
		if qty <= 0 {
			return ErrInvalidQuantity
		}
		if qty > item.SalesVolumeToday {
			return fmt.Errorf("%w: cannot undo %d, only %d sold today", ErrRefillExceedsSold, qty, item.SalesVolumeToday)
		}
		if item.RemainingVolume+qty > item.TotalVolume {
			return fmt.Errorf("%w: %d + %d exceeds %d", ErrCapacityExceeded, item.RemainingVolume, qty, item.TotalVolume)
		}
		var refund decimal.Decimal
		switch {
		case item.IsBeer():
			refund = item.UnitPrice
		case qty == item.SalesVolumeToday:
			refund = item.SalesValueToday
		default:
			refund = item.SalesValueToday.Div(decimal.NewFromInt(item.SalesVolumeToday)).Mul(decimal.NewFromInt(qty)).Round(2)
		}
		if refund.GreaterThan(item.SalesValueToday) {
			refund = item.SalesValueToday
		}
		if refund.IsNegative() {
			refund = decimal.Zero
		}
		item.RemainingVolume += qty
		item.SalesVolumeToday -= qty
		item.SalesValueToday = item.SalesValueToday.Sub(refund)
		if item.SalesValueToday.IsNegative() {
			item.SalesValueToday = decimal.Zero
		}
		item.UpdatedAt = s.now()
		if err := tx.UpdateOnBarItem(ctx, item); err != nil {
			return err
		}
		result = RefillResult{Item: item, Refund: refund}
		return nil
	})
	if err != nil {
		return RefillResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:refill",
		Entity:   "onbar_item",
		EntityID: itemID,
		Meta:     map[string]any{"refund": result.Refund.String(), "remaining": result.Item.RemainingVolume},
	})
	return result, nil
}

// RemoveOnBarItem deletes an item. An untouched catalog item goes back to
// the godown; anything poured from is considered consumed. Sales not yet
// archived are kept in today's on-bar history.
func (s *Service) RemoveOnBarItem(ctx context.Context, itemID, actorID string) (RemoveResult, error) {
	var result RemoveResult
	err := s.inTx(ctx, "remove_onbar", func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetOnBarItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		res := RemoveResult{Item: item}
		// Untouched also requires a full bottle: volume sold on earlier days
		// was already rolled over and cannot go back to the godown as units.
		if item.Tracked() && item.Untouched() {
			stock, err := tx.GetGodownForUpdate(ctx, item.ProductRef)
			if err != nil {
				return err
			}
			stock.Quantity += item.OpenedQuantity
			stock.UpdatedAt = s.now()
			if err := tx.PutGodown(ctx, stock); err != nil {
				return err
			}
			res.ReturnedQuantity = item.OpenedQuantity
			res.Godown = &stock
		}
		if hasSalesToday(item) {
			if err := tx.AddOnBarDaily(ctx, dailyRecord(item, s.Today())); err != nil {
				return err
			}
		}
		if err := tx.DeleteOnBarItem(ctx, itemID); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return RemoveResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:remove_onbar",
		Entity:   "onbar_item",
		EntityID: itemID,
		Meta:     map[string]any{"returned": result.ReturnedQuantity},
	})
	return result, nil
}

// ListOnBar returns every open or depleted item.
func (s *Service) ListOnBar(ctx context.Context) ([]OnBarItem, error) {
	return cached(ctx, s, s.repo.ListOnBarItems, "onbar")
}

// GetOnBar returns one item.
func (s *Service) GetOnBar(ctx context.Context, id string) (OnBarItem, error) {
	item, err := s.repo.GetOnBarItem(ctx, id)
	if err != nil {
		return OnBarItem{}, err
	}
	return item, nil
}

func hasSalesToday(item OnBarItem) bool {
	return item.SalesVolumeToday != 0 || !item.SalesValueToday.IsZero()
}

func dailyRecord(item OnBarItem, date string) OnBarDaily {
	return OnBarDaily{
		Date:            date,
		ItemID:          item.ID,
		ProductRef:      item.ProductRef,
		Brand:           item.Brand,
		Size:            item.Size,
		Category:        item.Category,
		SoldVolume:      item.SalesVolumeToday,
		SoldValue:       item.SalesValueToday,
		RemainingVolume: item.RemainingVolume,
	}
}
