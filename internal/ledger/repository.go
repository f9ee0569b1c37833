package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/platform/db"
)

// PGRepository persists the ledger in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgTx struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Rows
// read for update are locked; serialization failures surface as db.ErrConflict.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

const (
	snapshotColumns = `snapshot_date, product_id, prev_stock, added, sales, opening, closing, updated_at`
	onBarColumns    = `id, product_ref, brand, size, category, total_volume, remaining_volume, sales_volume_today, sales_value_today, unit_price, peg_price_30, peg_price_60, opened_quantity, opened_at, updated_at`
	dailyColumns    = `business_date, item_id, product_ref, brand, size, category, sold_volume, sold_value, remaining_volume`
)

func (r *PGRepository) ListGodown(ctx context.Context) ([]GodownStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, updated_at FROM godown_stock ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []GodownStock{}
	for rows.Next() {
		var g GodownStock
		if err := rows.Scan(&g.ProductID, &g.Quantity, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PGRepository) ListSnapshots(ctx context.Context, date string) ([]DailySnapshot, error) {
	return listSnapshots(ctx, r.pool, date, false)
}

func (r *PGRepository) ListOnBarItems(ctx context.Context) ([]OnBarItem, error) {
	return listOnBar(ctx, r.pool, false)
}

func (r *PGRepository) GetOnBarItem(ctx context.Context, id string) (OnBarItem, error) {
	return scanOnBar(r.pool.QueryRow(ctx, `SELECT `+onBarColumns+` FROM onbar_items WHERE id=$1`, id))
}

func (r *PGRepository) ListOnBarDaily(ctx context.Context, date string) ([]OnBarDaily, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dailyColumns+` FROM onbar_daily WHERE business_date=$1::date ORDER BY brand, item_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []OnBarDaily{}
	for rows.Next() {
		var rec OnBarDaily
		var day time.Time
		if err := rows.Scan(&day, &rec.ItemID, &rec.ProductRef, &rec.Brand, &rec.Size, &rec.Category, &rec.SoldVolume, &rec.SoldValue, &rec.RemainingVolume); err != nil {
			return nil, err
		}
		rec.Date = day.Format(DayLayout)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (catalog.Product, error) {
	return catalog.ScanProduct(t.tx.QueryRow(ctx, catalog.SelectProductSQL+` WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) InsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO products (id, brand, size, category, unit_price, prev_stock_baseline, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, p.ID, p.Brand, p.Size, string(p.Category), catalog.NullDecimal(p.UnitPrice), p.PrevStockBaseline, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// a concurrent delivery created it first; retry sees the row
			return fmt.Errorf("%w: product %s inserted concurrently", db.ErrConflict, p.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p catalog.Product) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET unit_price=$2, prev_stock_baseline=$3, updated_at=$4 WHERE id=$1`,
		p.ID, catalog.NullDecimal(p.UnitPrice), p.PrevStockBaseline, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) GetGodownForUpdate(ctx context.Context, productID string) (GodownStock, error) {
	g := GodownStock{ProductID: productID}
	err := t.tx.QueryRow(ctx, `SELECT quantity, updated_at FROM godown_stock WHERE product_id=$1 FOR UPDATE`, productID).Scan(&g.Quantity, &g.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return GodownStock{}, err
	}
	return g, nil
}

func (t *pgTx) PutGodown(ctx context.Context, g GodownStock) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO godown_stock (product_id, quantity, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (product_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=EXCLUDED.updated_at`, g.ProductID, g.Quantity, g.UpdatedAt)
	return err
}

func (t *pgTx) GetSnapshotForUpdate(ctx context.Context, date, productID string) (DailySnapshot, error) {
	return scanSnapshot(t.tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM daily_snapshots WHERE snapshot_date=$1::date AND product_id=$2 FOR UPDATE`, date, productID))
}

func (t *pgTx) PriorSnapshot(ctx context.Context, productID, date string) (DailySnapshot, error) {
	return scanSnapshot(t.tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM daily_snapshots WHERE product_id=$1 AND snapshot_date < $2::date ORDER BY snapshot_date DESC LIMIT 1`, productID, date))
}

func (t *pgTx) LaterSnapshotExists(ctx context.Context, productID, date string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM daily_snapshots WHERE product_id=$1 AND snapshot_date > $2::date)`, productID, date).Scan(&exists)
	return exists, err
}

func (t *pgTx) PutSnapshot(ctx context.Context, s DailySnapshot) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO daily_snapshots (`+snapshotColumns+`) VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (snapshot_date, product_id) DO UPDATE SET prev_stock=EXCLUDED.prev_stock, added=EXCLUDED.added, sales=EXCLUDED.sales,
opening=EXCLUDED.opening, closing=EXCLUDED.closing, updated_at=EXCLUDED.updated_at`,
		s.Date, s.ProductID, s.PrevStock, s.Added, s.Sales, s.Opening, s.Closing, s.UpdatedAt)
	return err
}

func (t *pgTx) ListSnapshotsForDate(ctx context.Context, date string) ([]DailySnapshot, error) {
	return listSnapshots(ctx, t.tx, date, true)
}

func (t *pgTx) GetOnBarItemForUpdate(ctx context.Context, id string) (OnBarItem, error) {
	return scanOnBar(t.tx.QueryRow(ctx, `SELECT `+onBarColumns+` FROM onbar_items WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) ListOnBarItemsForUpdate(ctx context.Context) ([]OnBarItem, error) {
	return listOnBar(ctx, t.tx, true)
}

func (t *pgTx) InsertOnBarItem(ctx context.Context, i OnBarItem) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO onbar_items (`+onBarColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		i.ID, i.ProductRef, i.Brand, i.Size, string(i.Category), i.TotalVolume, i.RemainingVolume, i.SalesVolumeToday,
		i.SalesValueToday, i.UnitPrice, catalog.NullDecimal(i.PegPrice30), catalog.NullDecimal(i.PegPrice60), i.OpenedQuantity, i.OpenedAt, i.UpdatedAt)
	return err
}

func (t *pgTx) UpdateOnBarItem(ctx context.Context, i OnBarItem) error {
	tag, err := t.tx.Exec(ctx, `UPDATE onbar_items SET remaining_volume=$2, sales_volume_today=$3, sales_value_today=$4, updated_at=$5 WHERE id=$1`,
		i.ID, i.RemainingVolume, i.SalesVolumeToday, i.SalesValueToday, i.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: on-bar item %s", ErrNotFound, i.ID)
	}
	return nil
}

func (t *pgTx) DeleteOnBarItem(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM onbar_items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: on-bar item %s", ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) AddOnBarDaily(ctx context.Context, rec OnBarDaily) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO onbar_daily (`+dailyColumns+`) VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (business_date, item_id) DO UPDATE SET sold_volume=onbar_daily.sold_volume+EXCLUDED.sold_volume,
sold_value=onbar_daily.sold_value+EXCLUDED.sold_value, remaining_volume=EXCLUDED.remaining_volume`,
		rec.Date, rec.ItemID, rec.ProductRef, rec.Brand, rec.Size, string(rec.Category), rec.SoldVolume, rec.SoldValue, rec.RemainingVolume)
	return err
}

func listSnapshots(ctx context.Context, q querier, date string, forUpdate bool) ([]DailySnapshot, error) {
	sql := `SELECT ` + snapshotColumns + ` FROM daily_snapshots WHERE snapshot_date=$1::date ORDER BY product_id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DailySnapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func listOnBar(ctx context.Context, q querier, forUpdate bool) ([]OnBarItem, error) {
	sql := `SELECT ` + onBarColumns + ` FROM onbar_items ORDER BY opened_at, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []OnBarItem{}
	for rows.Next() {
		item, err := scanOnBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (DailySnapshot, error) {
	var s DailySnapshot
	var day time.Time
	if err := row.Scan(&day, &s.ProductID, &s.PrevStock, &s.Added, &s.Sales, &s.Opening, &s.Closing, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailySnapshot{}, errSnapshotNotFound
		}
		return DailySnapshot{}, err
	}
	s.Date = day.Format(DayLayout)
	s.Persisted = true
	return s, nil
}

func scanOnBar(row pgx.Row) (OnBarItem, error) {
	var i OnBarItem
	var peg30, peg60 decimal.NullDecimal
	err := row.Scan(&i.ID, &i.ProductRef, &i.Brand, &i.Size, &i.Category, &i.TotalVolume, &i.RemainingVolume, &i.SalesVolumeToday,
		&i.SalesValueToday, &i.UnitPrice, &peg30, &peg60, &i.OpenedQuantity, &i.OpenedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OnBarItem{}, ErrNotFound
		}
		return OnBarItem{}, err
	}
	if peg30.Valid {
		v := peg30.Decimal
		i.PegPrice30 = &v
	}
	if peg60.Valid {
		v := peg60.Decimal
		i.PegPrice60 = &v
	}
	return i, nil
}
