package payment

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Intent is what checkout needs from the gateway to collect a payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// GatewayInterface defines the contract for a payment processing service.
type GatewayInterface interface {
	// CreateIntent registers the amount with the gateway and returns the
	// client-side handle used to complete payment.
	CreateIntent(ctx context.Context, orderID string, amount float64) (*Intent, error)
	// VerifyWebhook checks the event signature and, for a successful
	// payment, returns the order id the intent was created for.
	VerifyWebhook(payload []byte, signature string) (string, error)
}

// StripeGateway implements the gateway on Stripe payment intents.
type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, orderID string, amount float64) (*Intent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %.2f", amount)
	}

	params := &stripe.PaymentIntentParams{
		// Stripe amounts are in the smallest currency unit.
		Amount:   stripe.Int64(int64(amount * 100)),
		Currency: stripe.String(string(stripe.CurrencyINR)),
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("payment.CreateIntent: %w", err)
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return "", fmt.Errorf("payment.VerifyWebhook: %w", err)
	}
	if event.Type != "payment_intent.succeeded" {
		return "", fmt.Errorf("payment.VerifyWebhook: unhandled event type %q", event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("payment.VerifyWebhook: decode intent: %w", err)
	}
	orderID := pi.Metadata["order_id"]
	if orderID == "" {
		return "", fmt.Errorf("payment.VerifyWebhook: intent %s carries no order id", pi.ID)
	}
	return orderID, nil
}
