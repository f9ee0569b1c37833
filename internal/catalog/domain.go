package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies a sellable item.
type Category string

const (
	CategoryWhiskey Category = "Whiskey"
	CategoryRum     Category = "Rum"
	CategoryBeer    Category = "Beer"
	CategoryVodka   Category = "Vodka"
	CategoryWine    Category = "Wine"
	CategoryGin     Category = "Gin"
	CategoryTequila Category = "Tequila"
	// CategoryIML is Indian-made liquor sold under local brands.
	CategoryIML Category = "IML"
)

// Categories lists every supported category in display order.
var Categories = []Category{
	CategoryWhiskey, CategoryRum, CategoryBeer, CategoryVodka,
	CategoryWine, CategoryGin, CategoryTequila, CategoryIML,
}

// IsLiquor reports whether the category is poured by volume.
func (c Category) IsLiquor() bool {
	return c != CategoryBeer
}

// ParseCategory matches a category case-insensitively.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Product is a catalog entry. PrevStockBaseline is the shop closing stock
// written by the last shop end-of-day run and is the carry-forward fallback
// when no earlier daily snapshot exists.
type Product struct {
	ID                string           `json:"id"`
	Brand             string           `json:"brand"`
	Size              string           `json:"size"`
	Category          Category         `json:"category"`
	UnitPrice         *decimal.Decimal `json:"unit_price,omitempty"`
	PrevStockBaseline int64            `json:"prev_stock_baseline"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// HasPrice reports whether the product already carries a shop price.
func (p Product) HasPrice() bool {
	return p.UnitPrice != nil
}

// Price returns the unit price or zero when unset.
func (p Product) Price() decimal.Decimal {
	if p.UnitPrice == nil {
		return decimal.Zero
	}
	return *p.UnitPrice
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Category Category
	Search   string
	Limit    int
	Offset   int
}

var (
	// ErrProductNotFound indicates a missing catalog entry.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrDuplicateProduct indicates the brand+size key already exists.
	ErrDuplicateProduct = errors.New("catalog: product already exists")
	// ErrInvalidCategory indicates an unsupported category.
	ErrInvalidCategory = errors.New("catalog: invalid category")
	// ErrInvalidPrice indicates a negative or malformed price.
	ErrInvalidPrice = errors.New("catalog: price must be >= 0")
	// ErrInvalidProduct indicates missing brand or size.
	ErrInvalidProduct = errors.New("catalog: brand and size required")
	// ErrInvalidVolume indicates a size without a usable volume.
	ErrInvalidVolume = errors.New("catalog: size has no volume")
)

// NewProduct normalises and validates a catalog entry.
func NewProduct(brand, size string, category Category, price *decimal.Decimal, now time.Time) (Product, error) {
	brand = strings.Join(strings.Fields(brand), " ")
	size = strings.TrimSpace(size)
	if brand == "" || size == "" {
		return Product{}, ErrInvalidProduct
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return Product{}, err
	}
	if price != nil && price.IsNegative() {
		return Product{}, ErrInvalidPrice
	}
	id := ProductID(brand, size)
	if id == "" {
		return Product{}, ErrInvalidProduct
	}
	return Product{
		ID:        id,
		Brand:     brand,
		Size:      size,
		Category:  category,
		UnitPrice: price,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
