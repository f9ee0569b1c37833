package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/platform/db"
)

var _ catalog.Repository = (*MemoryRepository)(nil)
var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PGRepository)(nil)

func TestMemoryWritesInvisibleUntilCommit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		require.NoError(t, tx.PutGodown(ctx, GodownStock{ProductID: "p", Quantity: 3}))
		inside, err := tx.GetGodownForUpdate(ctx, "p")
		require.NoError(t, err)
		require.EqualValues(t, 3, inside.Quantity)

		outside, err := repo.ListGodown(ctx)
		require.NoError(t, err)
		require.Empty(t, outside)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stock, err := repo.ListGodown(ctx)
	require.NoError(t, err)
	require.Empty(t, stock)
}

func TestMemoryDetectsChangedReads(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	put := func(qty int64) error {
		return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.PutGodown(ctx, GodownStock{ProductID: "p", Quantity: qty})
		})
	}
	require.NoError(t, put(1))

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetGodownForUpdate(ctx, "p")
		if err != nil {
			return err
		}
		require.NoError(t, put(10))
		current.Quantity++
		return tx.PutGodown(ctx, current)
	})
	require.ErrorIs(t, err, db.ErrConflict)

	stock, err := repo.ListGodown(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, stock[0].Quantity)
}

func TestMemoryDetectsPhantomSnapshot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		later, err := tx.LaterSnapshotExists(ctx, "p", "2024-03-10")
		require.NoError(t, err)
		require.False(t, later)
		require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, other TxRepository) error {
			s := DailySnapshot{Date: "2024-03-11", ProductID: "p"}
			return other.PutSnapshot(ctx, s)
		}))
		return tx.PutSnapshot(ctx, DailySnapshot{Date: "2024-03-10", ProductID: "p", Sales: 1})
	})
	require.ErrorIs(t, err, db.ErrConflict)
}

func TestMemoryRejectsInvalidWrites(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.PutGodown(ctx, GodownStock{ProductID: "p", Quantity: -1})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateOnBarItem(ctx, OnBarItem{ID: "missing"})
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCatalogRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, p := range []struct{ brand, size string }{{"Smirnoff", "750ml"}, {"Absolut", "1L"}, {"Smirnoff", "180ml"}} {
		product, err := catalog.NewProduct(p.brand, p.size, catalog.CategoryVodka, nil, now)
		require.NoError(t, err)
		require.NoError(t, repo.CreateProduct(ctx, product))
	}
	dup, err := catalog.NewProduct("Absolut", "1L", catalog.CategoryVodka, nil, now)
	require.NoError(t, err)
	require.ErrorIs(t, repo.CreateProduct(ctx, dup), catalog.ErrDuplicateProduct)

	found, err := repo.ListProducts(ctx, catalog.ListFilter{Search: "smir"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "180ml", found[0].Size)

	page, err := repo.ListProducts(ctx, catalog.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "smirnoff-180ml", page[0].ID)

	price := decimal.NewFromInt(650)
	require.NoError(t, repo.UpdateProductPrice(ctx, "absolut-1l", &price, now))
	require.NoError(t, repo.UpdateProductCategory(ctx, "absolut-1l", catalog.CategoryGin, now))
	got, err := repo.GetProduct(ctx, "absolut-1l")
	require.NoError(t, err)
	require.True(t, got.Price().Equal(price))
	require.Equal(t, catalog.CategoryGin, got.Category)

	require.ErrorIs(t, repo.UpdateProductPrice(ctx, "nope", nil, now), catalog.ErrProductNotFound)
}
