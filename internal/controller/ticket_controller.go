package controller

import (
	"net/http"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	customMW "github.com/cassiomorais/ticketing/internal/middleware"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type TicketController struct {
	ticketService *service.TicketService
	maxPageLimit  int
}

func NewTicketController(ticketService *service.TicketService, maxPageLimit int) *TicketController {
	return &TicketController{ticketService: ticketService, maxPageLimit: maxPageLimit}
}

func (h *TicketController) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("id", "must be a valid UUID"))
		return
	}

	t, err := h.ticketService.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canSeeUser(r, t.UserID) {
		writeError(w, domainErrors.ErrForbidden)
		return
	}

	writeJSON(w, http.StatusOK, FromTicket(t))
}

// ListTickets lists tickets held by userId, defaulting to the caller.
func (h *TicketController) ListTickets(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.maxPageLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID, _ = customMW.GetUserID(r.Context())
	}
	if !canSeeUser(r, userID) {
		writeError(w, domainErrors.ErrForbidden)
		return
	}

	tickets, err := h.ticketService.ListByUser(r.Context(), userID, page)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.MapPage(tickets, FromTicket))
}

func canSeeUser(r *http.Request, userID string) bool {
	caller, _ := customMW.GetUserID(r.Context())
	return caller == userID || customMW.HasRole(r.Context(), customMW.RoleOrganizer)
}
