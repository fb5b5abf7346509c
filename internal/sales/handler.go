package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/partspoint/partspoint/internal/platform/httpx"
	"github.com/partspoint/partspoint/internal/shared"
	"github.com/partspoint/partspoint/internal/stock"
)

// Handler wires HTTP endpoints for the sales module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes. Cancellations go on owner, which the
// caller gates to the owner role; discarding a held bill stays open to the
// register.
func (h *Handler) MountRoutes(r, owner chi.Router) {
	r.Get("/transactions", h.handleList)
	r.Get("/transactions/held", h.handleHeld)
	r.Get("/transactions/{id}", h.handleGet)
	r.Delete("/transactions/{id}", h.handleDiscardHeld)
	r.Post("/sales", h.handleCreateSale)
	r.Post("/sales/{id}/post", h.handlePostSale)
	owner.Post("/sales/{id}/cancel", h.handleCancelSale)
	r.Post("/sales/{id}/payments", h.handlePayment)
	r.Get("/sales/{id}/returnable", h.handleReturnable)
	r.Post("/returns", h.handleCreateReturn)
	r.Post("/returns/{id}/post", h.handlePostReturn)
	owner.Post("/returns/{id}/cancel", h.handleCancelReturn)
}

func respondErr(w http.ResponseWriter, err error) {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrReturnWindowExpired),
		errors.Is(err, ErrReturnQuantityExceeded),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, stock.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientPayment):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	if identity, ok := shared.IdentityFromContext(r.Context()); ok {
		return identity.ID
	}
	return 0
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := TransactionFilter{
		DocType: DocType(q.Get("doc_type")),
		Status:  Status(q.Get("status")),
		Limit:   limit,
	}
	if v := q.Get("from"); v != "" {
		filter.From, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("to"); v != "" {
		filter.To, _ = time.Parse(time.RFC3339, v)
	}
	transactions, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (h *Handler) handleHeld(w http.ResponseWriter, r *http.Request) {
	held, err := h.service.ListHeldBills(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": held})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	t, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleDiscardHeld(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	if err := h.service.DiscardHeld(r.Context(), id, actorID(r)); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	req.ActorID = actorID(r)
	t, err := h.service.CreateSale(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handlePostSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	t, err := h.service.PostSale(r.Context(), id, actorID(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req cancelRequest
	_ = httpx.DecodeJSON(r, &req)
	t, err := h.service.CancelSale(r.Context(), id, actorID(r), req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	req.ActorID = actorID(r)
	payment, err := h.service.RecordPayment(r.Context(), id, req)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleReturnable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	lines, err := h.service.ReturnableLines(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	req.ActorID = actorID(r)
	t, err := h.service.CreateReturn(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handlePostReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	t, err := h.service.PostReturn(r.Context(), id, actorID(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleCancelReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req cancelRequest
	_ = httpx.DecodeJSON(r, &req)
	t, err := h.service.CancelReturn(r.Context(), id, actorID(r), req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}
