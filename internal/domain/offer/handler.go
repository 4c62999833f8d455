package offer

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/projectmarket-api/internal/middleware"
	"github.com/mwork/projectmarket-api/internal/pkg/errorhandler"
	"github.com/mwork/projectmarket-api/internal/pkg/response"
	"github.com/mwork/projectmarket-api/internal/pkg/validator"
)

// Handler handles offer negotiation HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates offer handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func offerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid offer ID")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /offers
// @Summary Make an offer on a project
// @Tags Offers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateOfferRequest true "Offer"
// @Success 201 {object} response.Response{data=OfferResponse}
// @Failure 400,404,409,422,500 {object} response.Response
// @Router /offers [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	o, err := h.service.Create(r.Context(), middleware.GetUserID(r.Context()), uuid.MustParse(req.ProjectID), req.Amount, req.Message)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.Created(w, OfferResponseFromEntity(o))
}

// Accept handles POST /offers/{id}/accept
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	o, err := h.service.Accept(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, OfferResponseFromEntity(o))
}

// Reject handles POST /offers/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	o, err := h.service.Reject(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, OfferResponseFromEntity(o))
}

// Counter handles POST /offers/{id}/counter
// @Summary Answer an offer with a different amount
// @Tags Offers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Offer ID"
// @Param request body CounterOfferRequest true "Counter-offer"
// @Success 201 {object} response.Response{data=OfferResponse}
// @Failure 400,403,404,409,422,500 {object} response.Response
// @Router /offers/{id}/counter [post]
func (h *Handler) Counter(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	var req CounterOfferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		response.ValidationError(w, errors)
		return
	}

	o, err := h.service.Counter(r.Context(), middleware.GetUserID(r.Context()), id, req.Amount, req.Message)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.Created(w, OfferResponseFromEntity(o))
}

// Chain handles GET /offers/{id}/chain
func (h *Handler) Chain(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	chain, err := h.service.Chain(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	out := make([]*OfferResponse, 0, len(chain))
	for _, o := range chain {
		out = append(out, OfferResponseFromEntity(o))
	}
	response.OK(w, out)
}

// Latest handles GET /offers/latest?project_id=&buyer_id=
// The buyer defaults to the caller.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		response.BadRequest(w, "Invalid project_id")
		return
	}
	buyerID := userID
	if raw := r.URL.Query().Get("buyer_id"); raw != "" {
		if buyerID, err = uuid.Parse(raw); err != nil {
			response.BadRequest(w, "Invalid buyer_id")
			return
		}
	}

	o, err := h.service.LatestOffer(r.Context(), userID, buyerID, projectID)
	if err != nil {
		errorhandler.Write(r.Context(), w, err)
		return
	}

	response.OK(w, OfferResponseFromEntity(o))
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.Create)
	r.Get("/latest", h.Latest)
	r.Post("/{id}/accept", h.Accept)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/counter", h.Counter)
	r.Get("/{id}/chain", h.Chain)

	return r
}
