package controller

import (
	"encoding/json"
	"net/http"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/service"
)

// WebhookController receives payment provider notifications. Replays answer
// 200 with applied=false so the provider stops redelivering.
type WebhookController struct {
	saga *service.OrderSagaService
}

func NewWebhookController(saga *service.OrderSagaService) *WebhookController {
	return &WebhookController{saga: saga}
}

func (h *WebhookController) HandlePayment(w http.ResponseWriter, r *http.Request) {
	var evt service.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, domainErrors.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}

	result, err := h.saga.HandleWebhook(r.Context(), evt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromSagaResult(result))
}
