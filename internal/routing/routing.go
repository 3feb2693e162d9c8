// Package routing decides which merchant account collects an order's payment
// and how the amount splits between the platform and the artist.
package routing

import (
	"github.com/shopspring/decimal"

	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	apperrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
)

// Decision is the routing outcome frozen onto the checkout row. The split
// always sums exactly to the order total; the fee is rounded once and the
// remainder goes to the artist.
type Decision struct {
	MerchantCode      string
	PlatformCollected bool
	PlatformFeePence  int64
	ArtistAmountPence int64
}

// Engine computes routing decisions. It holds policy only; it never touches
// the database or the network.
type Engine struct {
	feeRate              decimal.Decimal
	platformMerchantCode string
}

// NewEngine builds a routing engine from payment policy config.
func NewEngine(cfg config.PaymentsConfig) (*Engine, error) {
	rate := decimal.NewFromFloat(cfg.FeeRate)
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperrors.New(apperrors.CodeValidation, "fee rate must be in [0, 1)")
	}
	return &Engine{
		feeRate:              rate,
		platformMerchantCode: cfg.PlatformMerchantCode,
	}, nil
}

// Route picks the collecting merchant for an order. A usable connection sends
// the payment straight to the artist's merchant account; anything else falls
// back to platform collection, where the platform account takes the full
// amount and owes the artist their share as a manual payout.
func (e *Engine) Route(order *models.Order, conn *models.ArtistConnection) (Decision, error) {
	if order == nil {
		return Decision{}, apperrors.New(apperrors.CodeValidation, "order is required")
	}
	if order.TotalPence <= 0 {
		return Decision{}, apperrors.New(apperrors.CodeValidation, "order total must be positive")
	}

	fee, artist := e.Split(order.TotalPence)

	if connections.Access(conn) == connections.AccessAllowed {
		return Decision{
			MerchantCode:      conn.MerchantCode,
			PlatformCollected: false,
			PlatformFeePence:  fee,
			ArtistAmountPence: artist,
		}, nil
	}

	if e.platformMerchantCode == "" {
		return Decision{}, apperrors.New(apperrors.CodeInternal, "platform merchant code is not configured")
	}
	return Decision{
		MerchantCode:      e.platformMerchantCode,
		PlatformCollected: true,
		PlatformFeePence:  fee,
		ArtistAmountPence: artist,
	}, nil
}

// Split computes the fee split for a total in pence. Rounding is applied once,
// to the fee, half away from zero; the remainder is the artist's. The two
// parts sum exactly to the total for every input.
func (e *Engine) Split(totalPence int64) (feePence, artistPence int64) {
	fee := decimal.NewFromInt(totalPence).Mul(e.feeRate).Round(0).IntPart()
	return fee, totalPence - fee
}
