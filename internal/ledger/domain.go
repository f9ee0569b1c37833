package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
)

// DayLayout is the business-day key format used for daily snapshots.
const DayLayout = "2006-01-02"

// ParseDay validates a yyyy-MM-dd business day.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be yyyy-MM-dd", ErrInvalidDate, day)
	}
	return t, nil
}

// DayOf returns the business day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// GodownStock is the back-store quantity of a product.
type GodownStock struct {
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailySnapshot holds one product's shop figures for one business day.
// Opening and Closing are derived but stored; call Recompute before writing.
type DailySnapshot struct {
	Date      string    `json:"date"`
	ProductID string    `json:"product_id"`
	PrevStock int64     `json:"prev_stock"`
	Added     int64     `json:"added"`
	Sales     int64     `json:"sales"`
	Opening   int64     `json:"opening"`
	Closing   int64     `json:"closing"`
	UpdatedAt time.Time `json:"updated_at"`
	// Persisted is false for carry-forward views that were never written.
	Persisted bool `json:"persisted"`
}

// Recompute refreshes the derived opening and closing figures.
func (s *DailySnapshot) Recompute() {
	s.Opening = s.PrevStock + s.Added
	s.Closing = s.Opening - s.Sales
}

// HasActivity reports whether the day carries stock or movement.
func (s DailySnapshot) HasActivity() bool {
	return s.Opening > 0 || s.Sales > 0 || s.Added > 0
}

// ManualProductRef marks on-bar items entered by hand without catalog tracking.
const ManualProductRef = "manual"

// ItemState is the derived lifecycle state of an opened bottle or batch.
type ItemState string

const (
	ItemOpen     ItemState = "OPEN"
	ItemDepleted ItemState = "DEPLETED"
)

// OnBarItem is an opened bottle (liquor, volumes in ml) or an opened batch
// of beer (volumes in units).
type OnBarItem struct {
	ID               string           `json:"id"`
	ProductRef       string           `json:"product_ref"`
	Brand            string           `json:"brand"`
	Size             string           `json:"size"`
	Category         catalog.Category `json:"category"`
	TotalVolume      int64            `json:"total_volume"`
	RemainingVolume  int64            `json:"remaining_volume"`
	SalesVolumeToday int64            `json:"sales_volume_today"`
	SalesValueToday  decimal.Decimal  `json:"sales_value_today"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	PegPrice30       *decimal.Decimal `json:"peg_price_30ml,omitempty"`
	PegPrice60       *decimal.Decimal `json:"peg_price_60ml,omitempty"`
	// OpenedQuantity is the number of godown units this item consumed.
	OpenedQuantity int64     `json:"opened_quantity"`
	OpenedAt       time.Time `json:"opened_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Tracked reports whether the item came out of godown stock.
func (i OnBarItem) Tracked() bool {
	return i.ProductRef != "" && i.ProductRef != ManualProductRef
}

// IsBeer reports whether volumes are counted in units.
func (i OnBarItem) IsBeer() bool {
	return !i.Category.IsLiquor()
}

// State derives the lifecycle state from the remaining volume.
func (i OnBarItem) State() ItemState {
	if i.RemainingVolume <= 0 {
		return ItemDepleted
	}
	return ItemOpen
}

// Untouched reports whether nothing of the item has been consumed.
func (i OnBarItem) Untouched() bool {
	return i.SalesVolumeToday == 0 && i.RemainingVolume == i.TotalVolume
}

// OnBarDaily is the archived sales summary of one on-bar item for one day,
// written by the on-bar end-of-day rollover.
type OnBarDaily struct {
	Date            string           `json:"date"`
	ItemID          string           `json:"item_id"`
	ProductRef      string           `json:"product_ref"`
	Brand           string           `json:"brand"`
	Size            string           `json:"size"`
	Category        catalog.Category `json:"category"`
	SoldVolume      int64            `json:"sold_volume"`
	SoldValue       decimal.Decimal  `json:"sold_value"`
	RemainingVolume int64            `json:"remaining_volume"`
}

// PegPrices holds one-click pour prices for liquor.
type PegPrices struct {
	Peg30 *decimal.Decimal `json:"30ml,omitempty"`
	Peg60 *decimal.Decimal `json:"60ml,omitempty"`
}

// ShopTransferLine moves quantity from godown into the shop.
type ShopTransferLine struct {
	ProductID string
	Quantity  int64
	// UnitPrice is required when the product has no catalog price yet.
	UnitPrice *decimal.Decimal
}

// ShopTransferInput describes a single or bulk shop transfer.
type ShopTransferInput struct {
	Date           string
	Lines          []ShopTransferLine
	IdempotencyKey string
	ActorID        string
}

// ShopTransferResult reports the post-transfer state of one product.
type ShopTransferResult struct {
	Product  catalog.Product `json:"product"`
	Godown   GodownStock     `json:"godown"`
	Snapshot DailySnapshot   `json:"snapshot"`
}

// OnBarTransferLine opens quantity from godown at the bar.
type OnBarTransferLine struct {
	ProductID string
	Quantity  int64
	PegPrices PegPrices
	UnitPrice *decimal.Decimal
}

// OnBarTransferInput describes a single or bulk on-bar transfer.
type OnBarTransferInput struct {
	Lines          []OnBarTransferLine
	IdempotencyKey string
	ActorID        string
}

// OnBarTransferResult reports the opened items of one product.
type OnBarTransferResult struct {
	Godown GodownStock `json:"godown"`
	Items  []OnBarItem `json:"items"`
}

// ManualOpenInput describes an untracked item entered by hand.
type ManualOpenInput struct {
	Brand    string
	Size     string
	Category string
	// TotalVolume overrides the volume parsed from Size for liquor.
	TotalVolume int64
	Quantity    int64
	UnitPrice decimal.Decimal
	PegPrices PegPrices
	ActorID   string
}

// SaleInput sells volume from an on-bar item. Price overrides the computed
// price when set.
type SaleInput struct {
	ItemID  string
	Volume  int64
	Price   *decimal.Decimal
	ActorID string
}

// SaleResult reports the item after a sale and the charged price.
type SaleResult struct {
	Item  OnBarItem       `json:"item"`
	Price decimal.Decimal `json:"price"`
}

// RefillResult reports the item after an undo and the refunded amount.
type RefillResult struct {
	Item   OnBarItem       `json:"item"`
	Refund decimal.Decimal `json:"refund"`
}

// RemoveResult reports what happened to a removed item.
type RemoveResult struct {
	Item             OnBarItem    `json:"item"`
	ReturnedQuantity int64        `json:"returned_quantity"`
	Godown           *GodownStock `json:"godown,omitempty"`
}

// DeliveryInput records stock arriving at the godown, creating the catalog
// entry when the product is new.
type DeliveryInput struct {
	Brand    string
	Size     string
	Category string
	Quantity int64
	ActorID  string
}

// DeliveryResult reports the godown state after a delivery.
type DeliveryResult struct {
	Product catalog.Product `json:"product"`
	Godown  GodownStock     `json:"godown"`
	Created bool            `json:"created"`
}

// BaselineUpdate is one product baseline written by the shop rollover.
type BaselineUpdate struct {
	ProductID string `json:"product_id"`
	Baseline  int64  `json:"baseline"`
}

// ShopEODResult summarises a shop rollover.
type ShopEODResult struct {
	Date    string           `json:"date"`
	Updated []BaselineUpdate `json:"updated"`
}

// OnBarEODResult summarises an on-bar rollover.
type OnBarEODResult struct {
	Date     string       `json:"date"`
	Reset    int          `json:"reset"`
	Archived []OnBarDaily `json:"archived"`
}

// EODStatus is the advisory rollover state surfaced to callers.
type EODStatus struct {
	Date          string `json:"date"`
	NeedsOnBarEOD bool   `json:"needs_onbar_eod"`
	LastShopEOD   string `json:"last_shop_eod,omitempty"`
	ShopEODDone   bool   `json:"shop_eod_done"`
}
