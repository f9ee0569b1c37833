package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/catalog"
	"github.com/odyssey-erp/barstock/internal/platform/httpx"
	"github.com/odyssey-erp/barstock/internal/shared"
)

// Rollover kinds accepted by RolloverQueue.
const (
	RolloverShop  = "shop"
	RolloverOnBar = "onbar"
)

// IdempotencyHeader carries the caller's request key for transfers.
const IdempotencyHeader = "Idempotency-Key"

// RolloverQueue hands end-of-day runs to the background worker.
type RolloverQueue interface {
	EnqueueRollover(ctx context.Context, kind, date, actorID string) (string, error)
}

// Handler wires HTTP endpoints for stock movements and rollovers.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	queue     RolloverQueue
	validator *validator.Validate
}

// NewHandler constructs ledger handler. queue may be nil, in which case
// asynchronous rollovers are refused.
func NewHandler(logger *slog.Logger, service *Service, queue RolloverQueue) *Handler {
	return &Handler{logger: logger, service: service, queue: queue, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/godown", func(r chi.Router) {
		r.Get("/", h.listGodown)
		r.Post("/deliveries", h.receiveDelivery)
		r.Get("/{productID}", h.showGodown)
		r.Post("/{productID}/receipts", h.receiveGodown)
	})
	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", h.listSnapshots)
		r.Get("/{productID}", h.showSnapshot)
		r.Put("/{productID}/sales", h.recordSales)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/shop", h.transferShop)
		r.Post("/shop/bulk", h.transferShopBulk)
		r.Post("/onbar", h.transferOnBar)
		r.Post("/onbar/bulk", h.transferOnBarBulk)
	})
	r.Route("/onbar", func(r chi.Router) {
		r.Get("/", h.listOnBar)
		r.Get("/daily", h.listOnBarDaily)
		r.Post("/manual", h.openManual)
		r.Get("/{itemID}", h.showOnBar)
		r.Delete("/{itemID}", h.removeOnBar)
		r.Post("/{itemID}/pegs", h.sellPeg)
		r.Post("/{itemID}/units", h.sellBeer)
		r.Post("/{itemID}/refill", h.refill)
	})
	r.Route("/eod", func(r chi.Router) {
		r.Get("/status", h.eodStatus)
		r.Post("/shop", h.shopEOD)
		r.Post("/onbar", h.onBarEOD)
	})
}

type deliveryRequest struct {
	Brand    string `json:"brand" validate:"required,max=120"`
	Size     string `json:"size" validate:"required,max=40"`
	Category string `json:"category" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

type receiptRequest struct {
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

type salesRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Sales int64  `json:"sales" validate:"gte=0"`
}

type shopLineRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type shopTransferRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	shopLineRequest
}

type shopBulkRequest struct {
	Date  string            `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lines []shopLineRequest `json:"lines" validate:"required,min=1,max=200,dive"`
}

type onBarLineRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"gt=0"`
	PegPrices PegPrices        `json:"peg_prices"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type onBarBulkRequest struct {
	Lines []onBarLineRequest `json:"lines" validate:"required,min=1,max=200,dive"`
}

type manualRequest struct {
	Brand       string          `json:"brand" validate:"required,max=120"`
	Size        string          `json:"size" validate:"required,max=40"`
	Category    string          `json:"category" validate:"required"`
	TotalVolume int64           `json:"total_volume" validate:"gte=0"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PegPrices   PegPrices       `json:"peg_prices"`
}

type saleRequest struct {
	Volume int64            `json:"volume" validate:"gt=0"`
	Price  *decimal.Decimal `json:"price"`
}

type refillRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

type eodRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Async bool   `json:"async"`
}

var errorMappings = []httpx.ErrorMapping{
	{Target: ErrConcurrencyConflict, Status: http.StatusConflict, Title: "Concurrent Update"},
	{Target: ErrInsufficientStock, Status: http.StatusConflict, Title: "Insufficient Stock"},
	{Target: ErrInsufficientVolume, Status: http.StatusConflict, Title: "Insufficient Volume"},
	{Target: ErrDuplicateRequest, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Target: ErrSnapshotFinalized, Status: http.StatusConflict, Title: "Snapshot Finalized"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: catalog.ErrProductNotFound, Status: http.StatusNotFound, Title: "Product Not Found"},
	{Target: ErrMissingPrice, Status: http.StatusUnprocessableEntity, Title: "Missing Price"},
	{Target: ErrMissingPegPrice, Status: http.StatusUnprocessableEntity, Title: "Missing Peg Price"},
	{Target: ErrRefillExceedsSold, Status: http.StatusUnprocessableEntity, Title: "Refill Exceeds Sold Amount"},
	{Target: ErrCapacityExceeded, Status: http.StatusUnprocessableEntity, Title: "Capacity Exceeded"},
	{Target: ErrInvalidQuantity, Status: http.StatusUnprocessableEntity, Title: "Invalid Quantity"},
	{Target: ErrInvalidPrice, Status: http.StatusUnprocessableEntity, Title: "Invalid Price"},
	{Target: ErrInvalidDate, Status: http.StatusUnprocessableEntity, Title: "Invalid Date"},
	{Target: ErrInvalidVolume, Status: http.StatusUnprocessableEntity, Title: "Invalid Size"},
	{Target: ErrCategoryMismatch, Status: http.StatusUnprocessableEntity, Title: "Wrong Category"},
	{Target: catalog.ErrInvalidCategory, Status: http.StatusUnprocessableEntity, Title: "Invalid Category"},
	{Target: catalog.ErrInvalidProduct, Status: http.StatusUnprocessableEntity, Title: "Invalid Product"},
	{Target: catalog.ErrInvalidPrice, Status: http.StatusUnprocessableEntity, Title: "Invalid Price"},
}

var errQueueUnavailable = errors.New("ledger: background queue not configured")

func (h *Handler) listGodown(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.ListGodown(r.Context())
	if err != nil {
		h.fail(w, "list godown", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"godown": stock})
}

func (h *Handler) showGodown(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.GodownFor(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, "get godown", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) receiveDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ReceiveDelivery(r.Context(), DeliveryInput{
		Brand:    req.Brand,
		Size:     req.Size,
		Category: req.Category,
		Quantity: req.Quantity,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "receive delivery", err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) receiveGodown(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, err := h.service.ReceiveIntoGodown(r.Context(), chi.URLParam(r, "productID"), req.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "receive into godown", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.ListSnapshots(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "list snapshots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func (h *Handler) showSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.SnapshotFor(r.Context(), chi.URLParam(r, "productID"), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "get snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) recordSales(w http.ResponseWriter, r *http.Request) {
	var req salesRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.service.RecordShopSales(r.Context(), chi.URLParam(r, "productID"), req.Date, req.Sales, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "record shop sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) transferShop(w http.ResponseWriter, r *http.Request) {
	var req shopTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.TransferToShop(r.Context(), ShopTransferInput{
		Date:           req.Date,
		Lines:          []ShopTransferLine{shopLine(req.shopLineRequest)},
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "transfer to shop", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) transferShopBulk(w http.ResponseWriter, r *http.Request) {
	var req shopBulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]ShopTransferLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, shopLine(l))
	}
	results, err := h.service.TransferToShopBulk(r.Context(), ShopTransferInput{
		Date:           req.Date,
		Lines:          lines,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "bulk transfer to shop", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) transferOnBar(w http.ResponseWriter, r *http.Request) {
	var req onBarLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.TransferToOnBar(r.Context(), OnBarTransferInput{
		Lines:          []OnBarTransferLine{onBarLine(req)},
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "transfer to on-bar", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) transferOnBarBulk(w http.ResponseWriter, r *http.Request) {
	var req onBarBulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]OnBarTransferLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, onBarLine(l))
	}
	results, err := h.service.TransferToOnBarBulk(r.Context(), OnBarTransferInput{
		Lines:          lines,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "bulk transfer to on-bar", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"results": results})
}

func (h *Handler) listOnBar(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListOnBar(r.Context())
	if err != nil {
		h.fail(w, "list on-bar", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listOnBarDaily(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListOnBarDaily(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "list on-bar history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) showOnBar(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetOnBar(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, "get on-bar item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) openManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.service.OpenManual(r.Context(), ManualOpenInput{
		Brand:       req.Brand,
		Size:        req.Size,
		Category:    req.Category,
		TotalVolume: req.TotalVolume,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		PegPrices:   req.PegPrices,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "open manual item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (h *Handler) sellPeg(w http.ResponseWriter, r *http.Request) {
	h.sell(w, r, h.service.SellPeg, "sell peg")
}

func (h *Handler) sellBeer(w http.ResponseWriter, r *http.Request) {
	h.sell(w, r, h.service.SellBeer, "sell beer")
}

func (h *Handler) sell(w http.ResponseWriter, r *http.Request, fn func(context.Context, SaleInput) (SaleResult, error), op string) {
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := fn(r.Context(), SaleInput{
		ItemID:  chi.URLParam(r, "itemID"),
		Volume:  req.Volume,
		Price:   req.Price,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) refill(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Refill(r.Context(), chi.URLParam(r, "itemID"), req.Amount, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "refill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) removeOnBar(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RemoveOnBarItem(r.Context(), chi.URLParam(r, "itemID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "remove on-bar item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) eodStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.EODStatus(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "eod status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) shopEOD(w http.ResponseWriter, r *http.Request) {
	var req eodRequest
	if hasBody(r) && !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if req.Async {
		h.enqueue(w, r, RolloverShop, req.Date, actor)
		return
	}
	result, err := h.service.RunShopEOD(r.Context(), req.Date, actor)
	if err != nil {
		h.fail(w, "shop eod", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) onBarEOD(w http.ResponseWriter, r *http.Request) {
	var req eodRequest
	if hasBody(r) && !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if req.Async {
		h.enqueue(w, r, RolloverOnBar, req.Date, actor)
		return
	}
	result, err := h.service.RunOnBarEOD(r.Context(), req.Date, actor)
	if err != nil {
		h.fail(w, "on-bar eod", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, kind, date, actor string) {
	if h.queue == nil {
		h.logger.Warn("async rollover requested without queue", slog.String("kind", kind))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", errQueueUnavailable.Error())
		return
	}
	if date == "" {
		date = h.service.Today()
	}
	id, err := h.queue.EnqueueRollover(r.Context(), kind, date, actor)
	if err != nil {
		h.fail(w, "enqueue rollover", err)
		return
	}
	h.logger.Info("rollover enqueued", slog.String("kind", kind), slog.String("date", date), slog.String("task_id", id))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": id, "kind": kind, "date": date})
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func shopLine(l shopLineRequest) ShopTransferLine {
	return ShopTransferLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
}

func onBarLine(l onBarLineRequest) OnBarTransferLine {
	return OnBarTransferLine{ProductID: l.ProductID, Quantity: l.Quantity, PegPrices: l.PegPrices, UnitPrice: l.UnitPrice}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Namespace()] = fieldErr.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err, errorMappings...)
}
