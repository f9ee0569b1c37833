package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	products map[string]Product
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[string]Product{}}
}

func (m *memoryRepo) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	out := []Product{}
	for _, p := range m.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Brand), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memoryRepo) CreateProduct(ctx context.Context, p Product) error {
	if _, ok := m.products[p.ID]; ok {
		return ErrDuplicateProduct
	}
	m.products[p.ID] = p
	return nil
}

func (m *memoryRepo) UpdateProductPrice(ctx context.Context, id string, price *decimal.Decimal, at time.Time) error {
	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.UnitPrice = price
	p.UpdatedAt = at
	m.products[id] = p
	return nil
}

func (m *memoryRepo) UpdateProductCategory(ctx context.Context, id string, category Category, at time.Time) error {
	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Category = category
	p.UpdatedAt = at
	m.products[id] = p
	return nil
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestCreateDerivesKeyAndRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Brand: "Old Monk", Size: "750ml", Category: "rum"})
	require.NoError(t, err)
	require.Equal(t, "old-monk-750ml", p.ID)
	require.Equal(t, CategoryRum, p.Category)
	require.False(t, p.HasPrice())

	_, err = svc.Create(ctx, CreateInput{Brand: "old  monk", Size: "750ML", Category: "Rum"})
	require.ErrorIs(t, err, ErrDuplicateProduct)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Brand: "Smirnoff", Size: "750ml", Category: "Cider"})
	require.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Create(ctx, CreateInput{Brand: "Smirnoff", Size: "bottle", Category: "Vodka"})
	require.ErrorIs(t, err, ErrInvalidVolume)

	_, err = svc.Create(ctx, CreateInput{Brand: "Smirnoff", Size: "750ml", Category: "Vodka", UnitPrice: price("-1")})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.Create(ctx, CreateInput{Brand: " ", Size: "750ml", Category: "Vodka"})
	require.ErrorIs(t, err, ErrInvalidProduct)

	// beer sizes are unit counts and need not carry a volume
	_, err = svc.Create(ctx, CreateInput{Brand: "Kingfisher", Size: "pint", Category: "Beer"})
	require.NoError(t, err)
}

func TestUpdatePriceAndCategory(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{Brand: "Bacardi", Size: "750ml", Category: "Rum"})
	require.NoError(t, err)

	p, err = svc.UpdatePrice(ctx, p.ID, price("1450.50"))
	require.NoError(t, err)
	require.True(t, p.Price().Equal(decimal.RequireFromString("1450.5")))

	_, err = svc.UpdatePrice(ctx, "missing", price("1"))
	require.ErrorIs(t, err, ErrProductNotFound)

	p, err = svc.UpdateCategory(ctx, p.ID, "white rum")
	require.ErrorIs(t, err, ErrInvalidCategory)

	p, err = svc.UpdateCategory(ctx, "bacardi-750ml", "Vodka")
	require.NoError(t, err)
	require.Equal(t, CategoryVodka, p.Category)
}

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func TestHandlerCreateAndShow(t *testing.T) {
	router := newTestRouter(NewService(newMemoryRepo()))

	body := bytes.NewBufferString(`{"brand":"Bagpiper's","size":"1L","category":"Whiskey","unit_price":"2100"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "bagpiper-s-1l", created.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/bagpiper-s-1l", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerValidation(t *testing.T) {
	router := newTestRouter(NewService(newMemoryRepo()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(`{"size":"750ml","category":"Gin"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Brand")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(`{"brand":"X","size":"750ml","category":"Soda"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
