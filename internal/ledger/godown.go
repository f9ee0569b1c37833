package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/shared"
)

// ReceiveDelivery books a delivery into the godown. Unknown products are
// added to the catalog without a price; the first shop transfer sets it.
func (s *Service) ReceiveDelivery(ctx context.Context, input DeliveryInput) (DeliveryResult, error) {
	if input.Quantity <= 0 {
		return DeliveryResult{}, ErrInvalidQuantity
	}
	category, err := catalog.ParseCategory(input.Category)
	if err != nil {
		return DeliveryResult{}, err
	}
	candidate, err := catalog.NewProduct(input.Brand, input.Size, category, nil, s.now())
	if err != nil {
		return DeliveryResult{}, err
	}

	var result DeliveryResult
	err = s.inTx(ctx, "receive_delivery", func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		created := false
		product, err := tx.GetProductForUpdate(ctx, candidate.ID)
		switch {
		case errors.Is(err, catalog.ErrProductNotFound):
			product = candidate
			product.CreatedAt, product.UpdatedAt = now, now
			if err := tx.InsertProduct(ctx, product); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		}
		stock, err := tx.GetGodownForUpdate(ctx, product.ID)
		if err != nil {
			return err
		}
		stock.Quantity += input.Quantity
		stock.UpdatedAt = now
		if err := tx.PutGodown(ctx, stock); err != nil {
			return err
		}
		result = DeliveryResult{Product: product, Godown: stock, Created: created}
		return nil
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "ledger:receive_delivery",
		Entity:   "godown_stock",
		EntityID: result.Product.ID,
		Meta: map[string]any{
			"quantity": input.Quantity,
			"created":  result.Created,
			"balance":  result.Godown.Quantity,
		},
	})
	return result, nil
}

// ReceiveIntoGodown adds quantity for a product already in the catalog.
func (s *Service) ReceiveIntoGodown(ctx context.Context, productID string, quantity int64, actorID string) (GodownStock, error) {
	if quantity <= 0 {
		return GodownStock{}, ErrInvalidQuantity
	}
	var stock GodownStock
	err := s.inTx(ctx, "receive_godown", func(ctx context.Context, tx TxRepository) error {
		if _, err := loadProduct(ctx, tx, productID); err != nil {
			return err
		}
		current, err := tx.GetGodownForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		current.Quantity += quantity
		current.UpdatedAt = s.now()
		if err := tx.PutGodown(ctx, current); err != nil {
			return err
		}
		stock = current
		return nil
	})
	if err != nil {
		return GodownStock{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger:receive_godown",
		Entity:   "godown_stock",
		EntityID: productID,
		Meta:     map[string]any{"quantity": quantity, "balance": stock.Quantity},
	})
	return stock, nil
}

// ListGodown returns every godown balance.
func (s *Service) ListGodown(ctx context.Context) ([]GodownStock, error) {
	return cached(ctx, s, s.repo.ListGodown, "godown")
}

// GodownFor returns the balance of one product, zero when nothing was ever
// received.
func (s *Service) GodownFor(ctx context.Context, productID string) (GodownStock, error) {
	all, err := s.ListGodown(ctx)
	if err != nil {
		return GodownStock{}, err
	}
	for _, stock := range all {
		if stock.ProductID == productID {
			return stock, nil
		}
	}
	return GodownStock{ProductID: productID}, nil
}

// loadProduct maps a missing catalog entry onto ErrNotFound.
func loadProduct(ctx context.Context, tx TxRepository, productID string) (catalog.Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return catalog.Product{}, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return product, err
}
