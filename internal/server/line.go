package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"submit/internal/engine"
	"submit/internal/notify"
	"submit/internal/ratelimit"
)

const maxWebhookBody = 1 << 20

// lineWebhookHandler verifies and dispatches LINE webhook deliveries. Once
// the signature checks out it always answers 200 so LINE does not redeliver
// events that were already handled.
func lineWebhookHandler(e engine.Engine, secret string, trustProxy bool, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable body", nil))
			return
		}
		if secret == "" {
			log.Error("line webhook rejected, channel secret not configured")
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_signature", "signature verification unavailable", nil))
			return
		}
		if !notify.VerifySignature(secret, body, r.Header.Get("X-Line-Signature")) {
			log.Warn("line webhook signature mismatch", zap.String("client_ip", ratelimit.ClientIP(r, trustProxy)))
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_signature", "invalid signature", nil))
			return
		}
		wb, err := notify.ParseWebhook(body)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
			return
		}
		sum := e.HandleLineEvents(r.Context(), wb.Events)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sum)
	}
}
