package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/httputil"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/metrics"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindOpenFieldLine      = "open_field_line"
	kindMirrorBelowSurface = "mirror_below_reference_surface"
	kindInvalidInput       = "invalid_input"
	kindBudget             = "budget_exceeded"
	kindUnsupported        = "unsupported"
	kindUnavailable        = "backend_unavailable"
	kindTimeout            = "timeout"
	kindRateLimited        = "rate_limited"
	kindInternal           = "internal"
)

// budgetError rejects a request that asks for more work than the server
// allows.
type budgetError struct {
	field string
	limit int
}

func (e budgetError) Error() string {
	return fmt.Sprintf("%s exceeds the limit of %d", e.field, e.limit)
}

// classify maps an error to its kind and HTTP status.
func classify(err error) (string, int) {
	var budget budgetError
	switch {
	case errors.As(err, &budget):
		return kindBudget, http.StatusBadRequest
	case errors.Is(err, irbem.ErrOpenFieldLine):
		return kindOpenFieldLine, http.StatusUnprocessableEntity
	case errors.Is(err, bounce.ErrMirrorBelowReferenceSurface):
		return kindMirrorBelowSurface, http.StatusUnprocessableEntity
	case errors.Is(err, irbem.ErrInvalidInput):
		return kindInvalidInput, http.StatusBadRequest
	case errors.Is(err, irbem.ErrUnsupported):
		return kindUnsupported, http.StatusNotImplemented
	case errors.Is(err, irbem.ErrBackendUnavailable):
		return kindUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return kindTimeout, http.StatusGatewayTimeout
	}
	return kindInternal, http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Limit int    `json:"limit,omitempty"`
}

func errorBodyOf(err error, kind string) errorBody {
	body := errorBody{Error: err.Error(), Kind: kind}
	var budget budgetError
	if errors.As(err, &budget) {
		body.Limit = budget.limit
	}
	return body
}

// writeError classifies err, counts it against op and writes the JSON error
// body. Internal errors are logged and their detail withheld.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	kind, status := classify(err)
	metrics.IncQueryErrors(op, kind)
	body := errorBodyOf(err, kind)
	if status == http.StatusInternalServerError {
		logger.Error("query failed",
			"component", "api",
			"op", op,
			"error", err,
		)
		body.Error = "internal error"
	}
	httputil.WriteJSON(w, status, body)
}

// writeBadRequest rejects a body that could not be decoded.
func writeBadRequest(w http.ResponseWriter, op string, err error) {
	metrics.IncQueryErrors(op, kindInvalidInput)
	httputil.WriteJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: kindInvalidInput})
}
