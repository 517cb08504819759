package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/httputil"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body
const SignatureHeader = "X-Tierflow-Signature"

// WebhookHandlers receive payment rail notifications
type WebhookHandlers struct {
	receiver WebhookReceiver
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(receiver WebhookReceiver) *WebhookHandlers {
	return &WebhookHandlers{receiver: receiver}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/charges", h.HandleChargeWebhook).Methods(http.MethodPost)
}

// HandleChargeWebhook handles POST /webhooks/charges
func (h *WebhookHandlers) HandleChargeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	err = h.receiver.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		httputil.WriteBadRequest(w, err.Error())
	default:
		writeError(w, r, err)
	}
}
