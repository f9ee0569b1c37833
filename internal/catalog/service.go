package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreateInput describes a new catalog entry.
type CreateInput struct {
	Brand     string
	Size      string
	Category  string
	UnitPrice *decimal.Decimal
}

// Service coordinates catalog operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers a product. The ID is derived from brand and size, so the
// same bottle cannot be registered twice.
func (s *Service) Create(ctx context.Context, input CreateInput) (Product, error) {
	category, err := ParseCategory(input.Category)
	if err != nil {
		return Product{}, err
	}
	product, err := NewProduct(input.Brand, input.Size, category, input.UnitPrice, s.now())
	if err != nil {
		return Product{}, err
	}
	if category.IsLiquor() {
		if _, err := ParseVolume(product.Size); err != nil {
			return Product{}, err
		}
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, ErrProductNotFound
	}
	return s.repo.GetProduct(ctx, id)
}

// List returns products matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	if filter.Category != "" {
		c, err := ParseCategory(string(filter.Category))
		if err != nil {
			return nil, err
		}
		filter.Category = c
	}
	return s.repo.ListProducts(ctx, filter)
}

// UpdatePrice sets or clears the shop price. Clearing marks the product as
// new to the shop again, so the next shop transfer must supply a price.
func (s *Service) UpdatePrice(ctx context.Context, id string, price *decimal.Decimal) (Product, error) {
	if price != nil && price.IsNegative() {
		return Product{}, ErrInvalidPrice
	}
	if err := s.repo.UpdateProductPrice(ctx, id, price, s.now()); err != nil {
		return Product{}, fmt.Errorf("update price %s: %w", id, err)
	}
	return s.repo.GetProduct(ctx, id)
}

// UpdateCategory changes the product category.
func (s *Service) UpdateCategory(ctx context.Context, id string, raw string) (Product, error) {
	category, err := ParseCategory(raw)
	if err != nil {
		return Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if category.IsLiquor() {
		if _, err := ParseVolume(product.Size); err != nil {
			return Product{}, err
		}
	}
	if err := s.repo.UpdateProductCategory(ctx, id, category, s.now()); err != nil {
		return Product{}, fmt.Errorf("update category %s: %w", id, err)
	}
	product.Category = category
	return product, nil
}
