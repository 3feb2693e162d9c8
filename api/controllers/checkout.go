package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/api/responses"
	"github.com/rafaelolivas/showbill-backend/api/validators"
	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

type CheckoutService interface {
	Create(ctx context.Context, orderID uuid.UUID, opts checkout.CreateOptions) (*models.Checkout, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Checkout, error)
}

type createCheckoutRequest struct {
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url,max=2048"`
}

type checkoutResponse struct {
	ID                uuid.UUID            `json:"id"`
	OrderID           uuid.UUID            `json:"order_id"`
	Reference         string               `json:"reference"`
	Status            enums.CheckoutStatus `json:"status"`
	AmountPence       int64                `json:"amount_pence"`
	Currency          enums.Currency       `json:"currency"`
	PlatformFeePence  int64                `json:"platform_fee_pence"`
	ArtistAmountPence int64                `json:"artist_amount_pence"`
	CheckoutURL       *string              `json:"checkout_url,omitempty"`
}

// CreateCheckout opens a payment session for a pending order. Each call is a
// fresh attempt with a fresh processor reference.
func CreateCheckout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		ctx = logg.WithOrderID(ctx, orderID.String())

		// the body is optional: an empty POST uses the configured return URL
		var req createCheckoutRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		record, err := svc.Create(ctx, orderID, checkout.CreateOptions{ReturnURL: req.ReturnURL})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(record))
	}
}

// GetCheckout returns the current state of one checkout attempt.
func GetCheckout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checkoutID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout id"))
			return
		}

		record, err := svc.Get(ctx, checkoutID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutResponse(record))
	}
}

func newCheckoutResponse(record *models.Checkout) checkoutResponse {
	return checkoutResponse{
		ID:                record.ID,
		OrderID:           record.OrderID,
		Reference:         record.Reference,
		Status:            record.Status,
		AmountPence:       record.AmountPence,
		Currency:          record.Currency,
		PlatformFeePence:  record.PlatformFeePence,
		ArtistAmountPence: record.ArtistAmountPence,
		CheckoutURL:       record.CheckoutURL,
	}
}
