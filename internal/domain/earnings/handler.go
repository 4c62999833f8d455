package earnings

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/middleware"
	"github.com/mwork/projectmarket-api/internal/pkg/errorhandler"
	"github.com/mwork/projectmarket-api/internal/pkg/response"
	"github.com/mwork/projectmarket-api/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance handles GET /earnings/balance
// @Summary Seller balance by status
// @Tags Earnings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=BalanceResponse}
// @Router /earnings/balance [get]
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetSellerBalance(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, BalanceResponseFromBalance(b))
}

// RequestWithdrawal handles POST /earnings/withdrawals
// @Summary Withdraw available earnings
// @Tags Earnings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WithdrawalRequestBody true "Withdrawal"
// @Success 201 {object} response.Response{data=WithdrawalResponse}
// @Failure 400,422,500 {object} response.Response
// @Router /earnings/withdrawals [post]
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequestBody
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	wr, err := h.service.RequestWithdrawal(r.Context(), WithdrawalInput{
		SellerID:  middleware.GetUserID(r.Context()),
		Amount:    req.Amount,
		MethodRef: req.MethodRef,
	})
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.Created(w, WithdrawalResponseFromEntity(wr))
}

// ListWithdrawals handles GET /earnings/withdrawals
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListWithdrawals(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	out := make([]*WithdrawalResponse, 0, len(items))
	for _, wr := range items {
		out = append(out, WithdrawalResponseFromEntity(wr))
	}
	response.OK(w, out)
}

// GetWithdrawal handles GET /earnings/withdrawals/{id}
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := withdrawalID(w, r)
	if !ok {
		return
	}

	wr, err := h.service.GetWithdrawal(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, WithdrawalResponseFromEntity(wr))
}

// Process handles POST /admin/withdrawals/{id}/process
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.service.ProcessWithdrawal)
}

// Complete handles POST /admin/withdrawals/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.service.CompleteWithdrawal)
}

// Reject handles POST /admin/withdrawals/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	h.adminAction(w, r, func(ctx context.Context, adminID, id uuid.UUID) (*ledger.WithdrawalRequest, error) {
		return h.service.RejectWithdrawal(ctx, adminID, id, req.Reason)
	})
}

func (h *Handler) adminAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, adminID, id uuid.UUID) (*ledger.WithdrawalRequest, error)) {
	id, ok := withdrawalID(w, r)
	if !ok {
		return
	}

	wr, err := fn(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, WithdrawalResponseFromEntity(wr))
}

func withdrawalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid withdrawal ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.Balance)
	r.Post("/withdrawals", h.RequestWithdrawal)
	r.Get("/withdrawals", h.ListWithdrawals)
	r.Get("/withdrawals/{id}", h.GetWithdrawal)

	return r
}

func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Post("/{id}/process", h.Process)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/reject", h.Reject)

	return r
}
