package controller

import (
	"net/http"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TicketTypeController serves the authoritative ticket types. Writes are
// restricted to organizers by the router.
type TicketTypeController struct {
	ticketTypeService *service.TicketTypeService
	maxPageLimit      int
}

func NewTicketTypeController(ticketTypeService *service.TicketTypeService, maxPageLimit int) *TicketTypeController {
	return &TicketTypeController{ticketTypeService: ticketTypeService, maxPageLimit: maxPageLimit}
}

func (h *TicketTypeController) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTicketTypeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tt, err := h.ticketTypeService.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromTicketType(tt))
}

func (h *TicketTypeController) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseTicketTypeID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req service.UpdateTicketTypeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tt, err := h.ticketTypeService.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTicketType(tt))
}

func (h *TicketTypeController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseTicketTypeID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tt, err := h.ticketTypeService.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTicketType(tt))
}

func (h *TicketTypeController) ListByEvent(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.maxPageLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	types, err := h.ticketTypeService.ListByEvent(r.Context(), chi.URLParam(r, "eventId"), page)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.MapPage(types, FromTicketType))
}

func parseTicketTypeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError("id", "must be a valid UUID")
	}
	return id, nil
}
