package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/ticketing/internal/infrastructure/redis"
	"github.com/go-chi/chi/v5"
)

// CatalogReader is the read side of the ticket type projection.
type CatalogReader interface {
	Get(ctx context.Context, ticketTypeID string) (*redis.CatalogEntry, error)
	ListByEvent(ctx context.Context, eventID string) ([]redis.CatalogEntry, error)
}

// CatalogController serves the eventually consistent catalog. It may lag
// behind /ticket-types by the time it takes the worker to project an update.
type CatalogController struct {
	catalog CatalogReader
}

func NewCatalogController(catalog CatalogReader) *CatalogController {
	return &CatalogController{catalog: catalog}
}

func (h *CatalogController) ListEventTicketTypes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.ListByEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []redis.CatalogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *CatalogController) GetTicketType(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
