package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists catalog entries.
type Repository interface {
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	CreateProduct(ctx context.Context, product Product) error
	UpdateProductPrice(ctx context.Context, id string, price *decimal.Decimal, at time.Time) error
	UpdateProductCategory(ctx context.Context, id string, category Category, at time.Time) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const productColumns = `id, brand, size, category, unit_price, prev_stock_baseline, created_at, updated_at`

// ScanProduct reads a products row selected with the canonical column list.
func ScanProduct(row pgx.Row) (Product, error) {
	var p Product
	var price decimal.NullDecimal
	if err := row.Scan(&p.ID, &p.Brand, &p.Size, &p.Category, &price, &p.PrevStockBaseline, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	if price.Valid {
		v := price.Decimal
		p.UnitPrice = &v
	}
	return p, nil
}

// SelectProductSQL is the canonical products projection used by other
// repositories that read catalog rows inside their own transactions.
const SelectProductSQL = `SELECT ` + productColumns + ` FROM products`

func (r *pgRepository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	query := SelectProductSQL + ` WHERE 1=1`
	args := []any{}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += ` AND category = $` + strconv.Itoa(len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += ` AND (brand ILIKE $` + strconv.Itoa(len(args)) + ` OR size ILIKE $` + strconv.Itoa(len(args)) + `)`
	}
	query += ` ORDER BY brand ASC, size ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := ScanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *pgRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	return ScanProduct(r.pool.QueryRow(ctx, SelectProductSQL+` WHERE id=$1`, id))
}

func (r *pgRepository) CreateProduct(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (`+productColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Brand, p.Size, string(p.Category), NullDecimal(p.UnitPrice), p.PrevStockBaseline, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProduct
		}
		return err
	}
	return nil
}

func (r *pgRepository) UpdateProductPrice(ctx context.Context, id string, price *decimal.Decimal, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET unit_price=$2, updated_at=$3 WHERE id=$1`, id, NullDecimal(price), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *pgRepository) UpdateProductCategory(ctx context.Context, id string, category Category, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET category=$2, updated_at=$3 WHERE id=$1`, id, string(category), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// NullDecimal converts an optional price into a driver value.
func NullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
