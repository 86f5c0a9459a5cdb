// Package stripeproc adapts the Stripe API to the payment and reconcile packages.
package stripeproc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/reconcile"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe endpoint; empty means the public API.
	APIURL string
}

type Client struct {
	api           *client.API
	webhookSecret string
}

var (
	_ payment.Processor  = (*Client)(nil)
	_ reconcile.Verifier = (*Client)(nil)
)

func New(cfg Config) *Client {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.APIURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}
	return &Client{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreatePaymentIntent creates an automatic-payment-methods intent. The
// idempotency key makes a retried request return the original intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("user_id", req.UserID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Verify checks the Stripe-Signature header against the raw body and extracts
// the payment intent id the event refers to.
func (c *Client) Verify(payload []byte, signature string) (*reconcile.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	out := &reconcile.Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data != nil && len(evt.Data.Raw) > 0 {
		var obj struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("stripe: decode event object: %w", err)
		}
		if obj.Object == "" || obj.Object == "payment_intent" {
			out.IntentID = obj.ID
		}
	}
	return out, nil
}
