// Package stripe provides a direct Stripe Checkout provider, used when no
// billing backend URL is configured. It keeps the same contract as the
// forwarding handler: a purchase intent in, a redirect URL out.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/fitforpdf/fitforpdf-web/pkg/checkout"
)

// Config holds Stripe provider configuration.
type Config struct {
	// APIKey is the Stripe secret key (required).
	APIKey string

	// PackPrices maps credit-pack identifiers to Stripe Price IDs.
	PackPrices map[string]string

	// ProPriceID is the Stripe Price ID for the pro subscription.
	ProPriceID string

	// SuccessURL and CancelURL are where Stripe redirects after checkout.
	SuccessURL string
	CancelURL  string
}

// Provider creates Stripe Checkout sessions for credit packs and the pro
// plan.
type Provider struct {
	config Config
	client *stripe.Client
}

// NewProvider creates a Stripe checkout provider.
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	if config.SuccessURL == "" || config.CancelURL == "" {
		return nil, fmt.Errorf("success and cancel URLs are required")
	}
	return &Provider{
		config: config,
		client: stripe.NewClient(apiKey),
	}, nil
}

// CreditPackURL creates a one-time payment Checkout Session for a credit
// pack and returns its URL.
func (p *Provider) CreditPackURL(ctx context.Context, pack string) (string, error) {
	if !checkout.ValidPack(pack) {
		return "", fmt.Errorf("%w: %s", checkout.ErrInvalidPack, pack)
	}
	priceID := p.config.PackPrices[pack]
	if priceID == "" {
		// Configured pack without a mapped price: the flow exists but is
		// not sellable yet.
		return "", checkout.ErrComingSoon
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.config.SuccessURL),
		CancelURL:  stripe.String(p.config.CancelURL),
	}
	params.Metadata = map[string]string{"pack": pack}

	session, err := p.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// ProURL creates a subscription Checkout Session for the pro plan and
// returns its URL.
func (p *Provider) ProURL(ctx context.Context) (string, error) {
	if p.config.ProPriceID == "" {
		return "", checkout.ErrComingSoon
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.config.ProPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.config.SuccessURL),
		CancelURL:  stripe.String(p.config.CancelURL),
	}

	session, err := p.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}
