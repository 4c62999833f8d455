package escrow

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/middleware"
	"github.com/mwork/projectmarket-api/internal/pkg/errorhandler"
	"github.com/mwork/projectmarket-api/internal/pkg/response"
	"github.com/mwork/projectmarket-api/internal/pkg/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler handles escrow transaction HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates escrow handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func actorFrom(r *http.Request) Actor {
	ctx := r.Context()
	return Actor{
		ID:    middleware.GetUserID(ctx),
		Admin: middleware.GetRole(ctx) == middleware.RoleAdmin,
	}
}

func transactionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return uuid.Nil, false
	}
	return id, true
}

// Open handles POST /transactions
// @Summary Buy a project under escrow
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body OpenTransactionRequest true "Purchase"
// @Success 201 {object} response.Response{data=TransactionResponse}
// @Failure 400,404,409,422,500 {object} response.Response
// @Router /transactions [post]
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenTransactionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	t, err := h.service.Open(r.Context(), req.toInput(middleware.GetUserID(r.Context())))
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.Created(w, TransactionResponseFromEntity(t))
}

// List handles GET /transactions
// @Summary List my transactions as buyer or seller
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Response{data=[]TransactionResponse}
// @Router /transactions [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	items, err := h.service.ListMine(r.Context(), middleware.GetUserID(r.Context()), limit+1, offset)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	hasNext := len(items) > limit
	if hasNext {
		items = items[:limit]
	}
	out := make([]*TransactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TransactionResponseFromEntity(t))
	}

	response.WithMeta(w, out, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(out),
		HasNext: hasNext,
	})
}

// Get handles GET /transactions/{id}
// @Summary Get a transaction with its hold, installments and history
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response{data=TransactionDetailsResponse}
// @Failure 400,403,404,500 {object} response.Response
// @Router /transactions/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	d, err := h.service.GetTransaction(r.Context(), actorFrom(r), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, detailsResponse(d))
}

// StartDelivery handles POST /transactions/{id}/start
func (h *Handler) StartDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StartDelivery)
}

// Cancel handles POST /transactions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// ConfirmPayment handles POST /admin/transactions/{id}/confirm-payment
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if r.ContentLength > 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	t, err := h.service.ConfirmPayment(r.Context(), actorFrom(r), id, req.ProviderStatus)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, TransactionResponseFromEntity(t))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor Actor, id uuid.UUID) (*ledger.Transaction, error)) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	t, err := fn(r.Context(), actorFrom(r), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, TransactionResponseFromEntity(t))
}

// Deliver handles POST /transactions/{id}/deliver
// @Summary Mark the project as delivered
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Param request body DeliverRequest true "Delivery"
// @Success 200 {object} response.Response{data=TransactionResponse}
// @Failure 400,403,404,409,422,500 {object} response.Response
// @Router /transactions/{id}/deliver [post]
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	var req DeliverRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	t, err := h.service.MarkDelivered(r.Context(), actorFrom(r), id, DeliverInput{Notes: req.Notes, FileKey: req.FileKey})
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, TransactionResponseFromEntity(t))
}

// Release handles POST /transactions/{id}/release
// @Summary Release escrow to the seller
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response{data=ReleaseResponse}
// @Failure 400,403,404,409,500 {object} response.Response
// @Router /transactions/{id}/release [post]
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Release(r.Context(), actorFrom(r), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, ReleaseResponse{
		Transaction:    TransactionResponseFromEntity(res.Transaction),
		SellerReceived: res.SellerReceived.StringFixed(2),
		PlatformFee:    res.PlatformFee.StringFixed(2),
	})
}

// Dispute handles POST /transactions/{id}/dispute
// @Summary Open a dispute during the review period
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Param request body DisputeRequest true "Reason"
// @Success 200 {object} response.Response{data=TransactionResponse}
// @Failure 400,403,404,409,422,500 {object} response.Response
// @Router /transactions/{id}/dispute [post]
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	var req DisputeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	t, err := h.service.Dispute(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, TransactionResponseFromEntity(t))
}

// Refund handles POST /admin/transactions/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	var req RefundRequest
	if r.ContentLength > 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	t, err := h.service.Refund(r.Context(), actorFrom(r), id, req.Note)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, TransactionResponseFromEntity(t))
}

// PayInstallment handles POST /transactions/{id}/installments/{installmentID}/pay
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}
	installmentID, err := uuid.Parse(chi.URLParam(r, "installmentID"))
	if err != nil {
		response.BadRequest(w, "Invalid installment ID")
		return
	}

	i, err := h.service.PayInstallment(r.Context(), actorFrom(r), id, installmentID)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, InstallmentResponseFromEntity(i))
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Routes returns the buyer/seller transaction routes.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.Open)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/start", h.StartDelivery)
	r.Post("/{id}/deliver", h.Deliver)
	r.Post("/{id}/release", h.Release)
	r.Post("/{id}/dispute", h.Dispute)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/installments/{installmentID}/pay", h.PayInstallment)

	return r
}

// AdminRoutes returns the operator transaction routes.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Post("/{id}/confirm-payment", h.ConfirmPayment)
	r.Post("/{id}/refund", h.Refund)

	return r
}
