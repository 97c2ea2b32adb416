package payments

import (
	"context"
	"strconv"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

const DefaultPlatformFeePercent = 20

// HoldRequest describes the funds to hold when a booking is created.
type HoldRequest struct {
	AmountCents int64
	TipCents    int64
	BookingID   string
	CustomerID  string
	WasherID    string
}

// SplitFee returns the platform fee and the washer's share of amount+tip.
// The fee applies to the service amount only; tips go entirely to the washer.
func SplitFee(amountCents, tipCents int64, feePercent int) (platformFee, washerAmount int64) {
	if feePercent < 0 {
		feePercent = 0
	}
	if feePercent > 100 {
		feePercent = 100
	}
	platformFee = amountCents * int64(feePercent) / 100
	return platformFee, amountCents + tipCents - platformFee
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct {
	Currency   string
	FeePercent int
}

// NewStripeClient sets the stripe API key and returns a client charging in currency.
func NewStripeClient(apiKey, currency string, feePercent int) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeClient{Currency: currency, FeePercent: feePercent}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, req HoldRequest) (string, error) {
	fee, washerAmount := SplitFee(req.AmountCents, req.TipCents, s.FeePercent)
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents + req.TipCents),
		Currency: stripe.String(s.Currency),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("customer_id", req.CustomerID)
	params.AddMetadata("washer_id", req.WasherID)
	params.AddMetadata("platform_fee", strconv.FormatInt(fee, 10))
	params.AddMetadata("washer_amount", strconv.FormatInt(washerAmount, 10))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
