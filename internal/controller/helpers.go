package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/repository/postgres"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// retryAfterSeconds is what 503 responses advertise to clients and webhook senders.
const retryAfterSeconds = 5

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrTicketNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrTicketTypeNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
	{domainErrors.ErrSoldOut, http.StatusConflict, "sold_out"},
	{domainErrors.ErrSessionMismatch, http.StatusConflict, "session_mismatch"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.err == domainErrors.ErrOptimisticLockFailed {
				resp.Error = "concurrent modification, please retry"
			}
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	if isTransient(err) {
		log.Warn().Err(err).Msg("transient failure in handler")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		resp.Code = "temporarily_unavailable"
		resp.Error = "temporarily unavailable, please retry"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		resp.Error = domainErr.Message
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// isTransient covers failures that are expected to clear on redelivery:
// exhausted transaction retries, broker or store outages and timeouts.
func isTransient(err error) bool {
	return errors.Is(err, domainErrors.ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		postgres.IsRetryable(err)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

// parsePage reads limit/offset from the query string.
func parsePage(r *http.Request, maxLimit int) (pagination.Params, error) {
	q := r.URL.Query()
	return pagination.ParseQuery(q.Get("limit"), q.Get("offset"), maxLimit)
}
