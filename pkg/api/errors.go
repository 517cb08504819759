package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/plans"
)

// writeError maps domain errors onto HTTP responses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *billing.ValidationError
		exhausted  *allowance.AllowanceExhaustedError
		remote     *billing.RemoteError
		transition *payment.TransitionError
	)

	switch {
	case errors.As(err, &validation):
		httputil.WriteFieldError(w, http.StatusBadRequest, validation.Field, validation.Message)
	case errors.As(err, &exhausted):
		httputil.WriteDetailedError(w, http.StatusConflict, exhausted.Error(), map[string]any{
			"passenger_id": exhausted.PassengerID,
			"used":         exhausted.Used,
			"allowance":    exhausted.Allowance,
			"remedies":     exhausted.Remedies,
			"options":      exhausted.Options,
		})
	case errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrChargeNotFound),
		errors.Is(err, allowance.ErrPassengerNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, billing.ErrInvalidSignature):
		httputil.WriteError(w, http.StatusUnauthorized, err)
	case errors.As(err, &transition), errors.Is(err, payment.ErrChargeCancelled):
		httputil.WriteError(w, http.StatusConflict, err)
	case errors.As(err, &remote):
		status := http.StatusBadGateway
		if remote.Status >= 400 && remote.Status < 500 {
			status = remote.Status
		}
		httputil.WriteDetailedError(w, status, err.Error(), map[string]any{
			"retryable": remote.Retryable(),
		})
	case plans.IsConfigError(err), allowance.IsInvariantViolation(err):
		observability.FromContext(r.Context()).WithError(err).Error("request failed on server state")
		httputil.WriteInternalError(w, err)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
