package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rafaelolivas/showbill-backend/api/responses"
	"github.com/rafaelolivas/showbill-backend/internal/settlement"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

type SettlementService interface {
	Apply(ctx context.Context, event settlement.Event) (settlement.Outcome, error)
}

// sumupNotification is the body SumUp POSTs on checkout status changes.
type sumupNotification struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Payload   struct {
		CheckoutID      string `json:"checkout_id"`
		Reference       string `json:"reference"`
		Status          string `json:"status"`
		TransactionID   string `json:"transaction_id"`
		TransactionCode string `json:"transaction_code"`
	} `json:"payload"`
}

// SumUpWebhook receives checkout status notifications. Delivery is
// at-least-once and unordered; the settlement transition absorbs duplicates
// and stale events. Anything we choose to ignore still gets a 200 so SumUp
// does not retry it forever; only malformed JSON gets a 400.
func SumUpWebhook(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var notification sumupNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed notification"))
			return
		}

		if !isCheckoutEvent(notification.EventType) {
			if logg != nil {
				ctx = logg.WithField(ctx, "event_type", notification.EventType)
				logg.Info(ctx, "ignoring unrecognized webhook event")
			}
			responses.WriteSuccess(w, map[string]string{"outcome": string(settlement.OutcomeIgnored)})
			return
		}

		if notification.Payload.CheckoutID == "" {
			if logg != nil {
				logg.Warn(ctx, "checkout event without checkout id acknowledged and dropped")
			}
			responses.WriteSuccess(w, map[string]string{"outcome": string(settlement.OutcomeIgnored)})
			return
		}

		outcome, err := svc.Apply(ctx, settlement.Event{
			SumUpCheckoutID: notification.Payload.CheckoutID,
			Status:          notification.Payload.Status,
			TransactionID:   notification.Payload.TransactionID,
			TransactionCode: notification.Payload.TransactionCode,
		})
		if err != nil {
			// transient failure: error out so SumUp redelivers
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}

func isCheckoutEvent(eventType string) bool {
	return strings.HasPrefix(strings.ToLower(eventType), "checkout")
}
