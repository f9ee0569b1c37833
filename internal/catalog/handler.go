package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/barstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.list)
	r.Post("/products", h.create)
	r.Get("/products/{id}", h.show)
	r.Put("/products/{id}/price", h.updatePrice)
	r.Put("/products/{id}/category", h.updateCategory)
}

type createRequest struct {
	Brand     string           `json:"brand" validate:"required,max=120"`
	Size      string           `json:"size" validate:"required,max=40"`
	Category  string           `json:"category" validate:"required"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type priceRequest struct {
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type categoryRequest struct {
	Category string `json:"category" validate:"required"`
}

var errorMappings = []httpx.ErrorMapping{
	{Target: ErrProductNotFound, Status: http.StatusNotFound, Title: "Product Not Found"},
	{Target: ErrDuplicateProduct, Status: http.StatusConflict, Title: "Duplicate Product"},
	{Target: ErrInvalidCategory, Status: http.StatusUnprocessableEntity, Title: "Invalid Category"},
	{Target: ErrInvalidPrice, Status: http.StatusUnprocessableEntity, Title: "Invalid Price"},
	{Target: ErrInvalidProduct, Status: http.StatusUnprocessableEntity, Title: "Invalid Product"},
	{Target: ErrInvalidVolume, Status: http.StatusUnprocessableEntity, Title: "Invalid Size"},
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Category: Category(q.Get("category")), Search: q.Get("search")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}
	products, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.Create(r.Context(), CreateInput{
		Brand:     req.Brand,
		Size:      req.Size,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	h.logger.Info("product created", slog.String("product_id", product.ID))
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.UpdatePrice(r.Context(), chi.URLParam(r, "id"), req.UnitPrice)
	if err != nil {
		h.fail(w, "update price", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.UpdateCategory(r.Context(), chi.URLParam(r, "id"), req.Category)
	if err != nil {
		h.fail(w, "update category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		fields := map[string]string{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
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
