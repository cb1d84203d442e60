package controller

import (
	"net/http"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	customMW "github.com/cassiomorais/ticketing/internal/middleware"
	"github.com/cassiomorais/ticketing/internal/service"
	"github.com/go-chi/chi/v5"
)

type OrderController struct {
	orderService  *service.OrderService
	ticketService *service.TicketService
	maxPageLimit  int
}

func NewOrderController(orderService *service.OrderService, ticketService *service.TicketService, maxPageLimit int) *OrderController {
	return &OrderController{
		orderService:  orderService,
		ticketService: ticketService,
		maxPageLimit:  maxPageLimit,
	}
}

func (h *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	o, err := h.orderService.CreateOrder(r.Context(), service.CreateOrderRequest{
		SessionID: req.SessionID,
		UserID:    userID,
		EventID:   req.EventID,
		Currency:  req.Currency,
		Items:     req.Items,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromOrder(o))
}

func (h *OrderController) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOrder(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromOrder(o))
}

// ListOrders lists the caller's orders. Organizers may pass userId to list
// someone else's, or omit it to list everyone's.
func (h *OrderController) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.maxPageLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	var filter order.ListFilter
	userID, _ := customMW.GetUserID(r.Context())
	if customMW.HasRole(r.Context(), customMW.RoleOrganizer) {
		if q := r.URL.Query().Get("userId"); q != "" {
			filter.UserID = &q
		}
	} else {
		filter.UserID = &userID
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := order.Status(s)
		switch status {
		case order.StatusPending, order.StatusConfirmed, order.StatusRejected:
			filter.Status = &status
		default:
			writeError(w, domainErrors.NewValidationError("status", "must be one of pending, confirmed, rejected"))
			return
		}
	}

	orders, err := h.orderService.ListOrders(r.Context(), filter, page)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.MapPage(orders, FromOrder))
}

func (h *OrderController) ListOrderTickets(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.maxPageLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := h.ownedOrder(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tickets, err := h.ticketService.ListByOrder(r.Context(), o.ID, page)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.MapPage(tickets, FromTicket))
}

// ownedOrder loads the order in the URL and checks the caller may see it.
func (h *OrderController) ownedOrder(r *http.Request) (*order.Order, error) {
	o, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	userID, _ := customMW.GetUserID(r.Context())
	if o.UserID != userID && !customMW.HasRole(r.Context(), customMW.RoleOrganizer) {
		return nil, domainErrors.ErrForbidden
	}
	return o, nil
}
