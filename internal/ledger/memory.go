package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/platform/db"
)

// MemoryRepository is an in-process document store with optimistic
// concurrency. Every key read inside a transaction is version-checked at
// commit; a key changed by another transaction fails the commit with
// db.ErrConflict. Writes are buffered and invisible until commit.
//
// It implements both Repository and catalog.Repository so the catalog and
// the ledger share one state in memory mode.
type MemoryRepository struct {
	mu        sync.Mutex
	versions  map[string]uint64
	products  map[string]catalog.Product
	godown    map[string]GodownStock
	snapshots map[string]DailySnapshot
	onbar     map[string]OnBarItem
	daily     map[string]OnBarDaily

	// beforeCommit runs after the callback and before validation; tests use
	// it to interleave a competing transaction.
	beforeCommit func()
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		versions:  map[string]uint64{},
		products:  map[string]catalog.Product{},
		godown:    map[string]GodownStock{},
		snapshots: map[string]DailySnapshot{},
		onbar:     map[string]OnBarItem{},
		daily:     map[string]OnBarDaily{},
	}
}

func productKey(id string) string         { return "product/" + id }
func godownKey(id string) string          { return "godown/" + id }
func snapshotKey(date, id string) string  { return "snapshot/" + date + "/" + id }
func snapshotSetKey(id string) string     { return "snapshots-of/" + id }
func snapshotDateKey(date string) string  { return "snapshots-on/" + date }
func onBarKey(id string) string           { return "onbar/" + id }
func dailyKey(date, itemID string) string { return date + "/" + itemID }

const onBarSetKey = "onbar-set"

type memoryTx struct {
	repo  *MemoryRepository
	reads map[string]uint64

	products  map[string]catalog.Product
	godown    map[string]GodownStock
	snapshots map[string]DailySnapshot
	onbar     map[string]*OnBarItem
	daily     []OnBarDaily
	bumps     map[string]struct{}
}

// WithTx runs fn against a buffered view and commits it atomically.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:      m,
		reads:     map[string]uint64{},
		products:  map[string]catalog.Product{},
		godown:    map[string]GodownStock{},
		snapshots: map[string]DailySnapshot{},
		onbar:     map[string]*OnBarItem{},
		bumps:     map[string]struct{}{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}
	return tx.commit()
}

func (tx *memoryTx) commit() error {
	m := tx.repo
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, seen := range tx.reads {
		if m.versions[key] != seen {
			return fmt.Errorf("%w: %s changed", db.ErrConflict, key)
		}
	}
	for id, p := range tx.products {
		m.products[id] = p
		tx.bumps[productKey(id)] = struct{}{}
	}
	for id, g := range tx.godown {
		m.godown[id] = g
		tx.bumps[godownKey(id)] = struct{}{}
	}
	for key, s := range tx.snapshots {
		if _, exists := m.snapshots[key]; !exists {
			tx.bumps[snapshotSetKey(s.ProductID)] = struct{}{}
			tx.bumps[snapshotDateKey(s.Date)] = struct{}{}
		}
		s.Persisted = true
		m.snapshots[key] = s
		tx.bumps["snapshot/"+key] = struct{}{}
	}
	for id, item := range tx.onbar {
		if _, exists := m.onbar[id]; !exists || item == nil {
			tx.bumps[onBarSetKey] = struct{}{}
		}
		if item == nil {
			delete(m.onbar, id)
		} else {
			m.onbar[id] = *item
		}
		tx.bumps[onBarKey(id)] = struct{}{}
	}
	for _, rec := range tx.daily {
		key := dailyKey(rec.Date, rec.ItemID)
		if prev, ok := m.daily[key]; ok {
			rec.SoldVolume += prev.SoldVolume
			rec.SoldValue = rec.SoldValue.Add(prev.SoldValue)
		}
		m.daily[key] = rec
	}
	for key := range tx.bumps {
		m.versions[key]++
	}
	return nil
}

// observe records the committed version of key in the read set.
func (tx *memoryTx) observe(key string) {
	if _, ok := tx.reads[key]; ok {
		return
	}
	tx.reads[key] = tx.repo.versions[key]
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id string) (catalog.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(productKey(id))
	p, ok := tx.repo.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) InsertProduct(ctx context.Context, p catalog.Product) error {
	if _, ok := tx.products[p.ID]; ok {
		return catalog.ErrDuplicateProduct
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(productKey(p.ID))
	if _, ok := tx.repo.products[p.ID]; ok {
		return catalog.ErrDuplicateProduct
	}
	tx.products[p.ID] = p
	return nil
}

func (tx *memoryTx) UpdateProduct(ctx context.Context, p catalog.Product) error {
	if _, err := tx.GetProductForUpdate(ctx, p.ID); err != nil {
		return err
	}
	tx.products[p.ID] = p
	return nil
}

func (tx *memoryTx) GetGodownForUpdate(ctx context.Context, productID string) (GodownStock, error) {
	if g, ok := tx.godown[productID]; ok {
		return g, nil
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(godownKey(productID))
	if g, ok := tx.repo.godown[productID]; ok {
		return g, nil
	}
	return GodownStock{ProductID: productID}, nil
}

func (tx *memoryTx) PutGodown(ctx context.Context, g GodownStock) error {
	if g.Quantity < 0 {
		return fmt.Errorf("%w: godown %s would be %d", ErrInsufficientStock, g.ProductID, g.Quantity)
	}
	tx.godown[g.ProductID] = g
	return nil
}

func (tx *memoryTx) GetSnapshotForUpdate(ctx context.Context, date, productID string) (DailySnapshot, error) {
	key := date + "/" + productID
	if s, ok := tx.snapshots[key]; ok {
		return s, nil
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(snapshotKey(date, productID))
	s, ok := tx.repo.snapshots[key]
	if !ok {
		return DailySnapshot{}, errSnapshotNotFound
	}
	return s, nil
}

func (tx *memoryTx) PriorSnapshot(ctx context.Context, productID, date string) (DailySnapshot, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(snapshotSetKey(productID))
	var best DailySnapshot
	found := false
	consider := func(s DailySnapshot) {
		if s.ProductID != productID || s.Date >= date {
			return
		}
		if !found || s.Date > best.Date {
			best, found = s, true
		}
	}
	for _, s := range tx.repo.snapshots {
		consider(s)
	}
	for _, s := range tx.snapshots {
		consider(s)
	}
	if !found {
		return DailySnapshot{}, errSnapshotNotFound
	}
	tx.observe(snapshotKey(best.Date, productID))
	return best, nil
}

func (tx *memoryTx) LaterSnapshotExists(ctx context.Context, productID, date string) (bool, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(snapshotSetKey(productID))
	for _, s := range tx.repo.snapshots {
		if s.ProductID == productID && s.Date > date {
			return true, nil
		}
	}
	for _, s := range tx.snapshots {
		if s.ProductID == productID && s.Date > date {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) PutSnapshot(ctx context.Context, s DailySnapshot) error {
	tx.snapshots[s.Date+"/"+s.ProductID] = s
	return nil
}

func (tx *memoryTx) ListSnapshotsForDate(ctx context.Context, date string) ([]DailySnapshot, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(snapshotDateKey(date))
	merged := map[string]DailySnapshot{}
	for key, s := range tx.repo.snapshots {
		if s.Date == date {
			tx.observe(snapshotKey(s.Date, s.ProductID))
			merged[key] = s
		}
	}
	for key, s := range tx.snapshots {
		if s.Date == date {
			merged[key] = s
		}
	}
	out := make([]DailySnapshot, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (tx *memoryTx) GetOnBarItemForUpdate(ctx context.Context, id string) (OnBarItem, error) {
	if item, ok := tx.onbar[id]; ok {
		if item == nil {
			return OnBarItem{}, fmt.Errorf("%w: on-bar item %s", ErrNotFound, id)
		}
		return *item, nil
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(onBarKey(id))
	item, ok := tx.repo.onbar[id]
	if !ok {
		return OnBarItem{}, fmt.Errorf("%w: on-bar item %s", ErrNotFound, id)
	}
	return item, nil
}

func (tx *memoryTx) ListOnBarItemsForUpdate(ctx context.Context) ([]OnBarItem, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(onBarSetKey)
	merged := map[string]OnBarItem{}
	for id, item := range tx.repo.onbar {
		tx.observe(onBarKey(id))
		merged[id] = item
	}
	for id, item := range tx.onbar {
		if item == nil {
			delete(merged, id)
			continue
		}
		merged[id] = *item
	}
	return sortedOnBar(merged), nil
}

func (tx *memoryTx) InsertOnBarItem(ctx context.Context, item OnBarItem) error {
	if _, ok := tx.onbar[item.ID]; ok {
		return fmt.Errorf("on-bar item %s already exists", item.ID)
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.observe(onBarKey(item.ID))
	if _, ok := tx.repo.onbar[item.ID]; ok {
		return fmt.Errorf("on-bar item %s already exists", item.ID)
	}
	tx.onbar[item.ID] = &item
	return nil
}

func (tx *memoryTx) UpdateOnBarItem(ctx context.Context, item OnBarItem) error {
	if _, err := tx.GetOnBarItemForUpdate(ctx, item.ID); err != nil {
		return err
	}
	if item.RemainingVolume < 0 || item.RemainingVolume > item.TotalVolume {
		return fmt.Errorf("%w: remaining %d outside 0..%d", ErrCapacityExceeded, item.RemainingVolume, item.TotalVolume)
	}
	tx.onbar[item.ID] = &item
	return nil
}

func (tx *memoryTx) DeleteOnBarItem(ctx context.Context, id string) error {
	if _, err := tx.GetOnBarItemForUpdate(ctx, id); err != nil {
		return err
	}
	tx.onbar[id] = nil
	return nil
}

func (tx *memoryTx) AddOnBarDaily(ctx context.Context, rec OnBarDaily) error {
	tx.daily = append(tx.daily, rec)
	return nil
}

func (m *MemoryRepository) ListGodown(ctx context.Context) ([]GodownStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GodownStock, 0, len(m.godown))
	for _, g := range m.godown {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *MemoryRepository) ListSnapshots(ctx context.Context, date string) ([]DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []DailySnapshot{}
	for _, s := range m.snapshots {
		if s.Date == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *MemoryRepository) ListOnBarItems(ctx context.Context) ([]OnBarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedOnBar(m.onbar), nil
}

func (m *MemoryRepository) GetOnBarItem(ctx context.Context, id string) (OnBarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.onbar[id]
	if !ok {
		return OnBarItem{}, fmt.Errorf("%w: on-bar item %s", ErrNotFound, id)
	}
	return item, nil
}

func (m *MemoryRepository) ListOnBarDaily(ctx context.Context, date string) ([]OnBarDaily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []OnBarDaily{}
	for _, rec := range m.daily {
		if rec.Date == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func sortedOnBar(items map[string]OnBarItem) []OnBarItem {
	out := make([]OnBarItem, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListProducts implements catalog.Repository.
func (m *MemoryRepository) ListProducts(ctx context.Context, filter catalog.ListFilter) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []catalog.Product{}
	search := strings.ToLower(filter.Search)
	for _, p := range m.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Brand+" "+p.Size), search) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].Size < out[j].Size
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []catalog.Product{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetProduct implements catalog.Repository.
func (m *MemoryRepository) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

// CreateProduct implements catalog.Repository.
func (m *MemoryRepository) CreateProduct(ctx context.Context, p catalog.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; ok {
		return catalog.ErrDuplicateProduct
	}
	m.products[p.ID] = p
	m.versions[productKey(p.ID)]++
	return nil
}

// UpdateProductPrice implements catalog.Repository.
func (m *MemoryRepository) UpdateProductPrice(ctx context.Context, id string, price *decimal.Decimal, at time.Time) error {
	return m.mutateProduct(id, func(p *catalog.Product) {
		p.UnitPrice = price
		p.UpdatedAt = at
	})
}

// UpdateProductCategory implements catalog.Repository.
func (m *MemoryRepository) UpdateProductCategory(ctx context.Context, id string, category catalog.Category, at time.Time) error {
	return m.mutateProduct(id, func(p *catalog.Product) {
		p.Category = category
		p.UpdatedAt = at
	})
}

func (m *MemoryRepository) mutateProduct(id string, fn func(*catalog.Product)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	fn(&p)
	m.products[id] = p
	m.versions[productKey(id)]++
	return nil
}
