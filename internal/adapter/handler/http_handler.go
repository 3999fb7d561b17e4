package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

const (
	maxBodyBytes         = 1 << 20
	idempotencyKeyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	sales   *service.SaleService
	catalog *service.CatalogService
	logger  *zap.Logger
}

// envelope wraps every response body.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

func NewHTTPHandler(sales *service.SaleService, catalog *service.CatalogService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{sales: sales, catalog: catalog, logger: logger}
}

func (h *HTTPHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	}

	sale, err := h.sales.RecordSale(r.Context(), req.toService())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{
		Status:  "success",
		Message: "sale " + sale.Code + " recorded",
		Data:    sale,
	})
}

func (h *HTTPHandler) AnnulSale(w http.ResponseWriter, r *http.Request) {
	var req AnnulRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.sales.AnnulSale(r.Context(), req.SaleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "sale " + res.Code + " annulled",
		Data:    res,
	})
}

func (h *HTTPHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.sales.ListSales(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: sales})
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.sales.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: sale})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: products})
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: p})
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.catalog.CreateProduct(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Status: "success", Message: "product created", Data: p})
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: "product updated", Data: p})
}

func (h *HTTPHandler) ImportProducts(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !h.decode(w, r, &req) {
		return
	}

	summary, err := h.catalog.ImportProducts(r.Context(), req.Products)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: "products imported", Data: summary})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			Status:  "error",
			Message: "invalid request body",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// writeError maps engine errors to a status code. Client errors are echoed
// verbatim; anything else is logged and replaced by a generic message.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := envelope{Status: "error", Message: err.Error()}
	status := http.StatusInternalServerError

	var (
		stockErr *service.InsufficientStockError
		fieldErr *service.ValidationError
	)

	switch {
	case errors.As(err, &fieldErr):
		status = http.StatusBadRequest
		resp.Details = map[string]string{"field": fieldErr.Field}
	case errors.As(err, &stockErr):
		status = http.StatusConflict
		resp.Details = stockErr.Shortfalls
	case service.IsConflict(err):
		status = http.StatusConflict
	case service.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSnapshotFormat):
		resp.Message = "sale snapshot is unreadable, sale left unchanged"
		resp.Details = err.Error()
	case service.IsRetryable(err):
		status = http.StatusServiceUnavailable
		resp.Message = "storage temporarily unavailable, retry the request"
	default:
		resp.Message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
