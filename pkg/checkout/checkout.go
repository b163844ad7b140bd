// Package checkout implements the thin endpoints that forward purchase
// intents to the billing backend and relay the redirect URL.
package checkout

import (
	"context"
	"errors"
)

var (
	// ErrComingSoon maps an upstream 501: the purchase flow is not yet
	// available, which callers present as "coming soon" rather than a
	// failure.
	ErrComingSoon = errors.New("checkout not yet available")

	// ErrInvalidPack is returned for unknown credit-pack identifiers.
	ErrInvalidPack = errors.New("invalid credit pack")

	// ErrInvalidResponse is returned when the billing backend reports
	// success without a checkout URL.
	ErrInvalidResponse = errors.New("invalid checkout response")
)

// EnvBackendURL is the env var naming the billing backend base URL.
const EnvBackendURL = "BACKEND_CHECKOUT_URL"

// Provider creates checkout sessions directly, without a billing backend.
// Used as the handler's fallback when no backend URL is configured; see
// the stripe subpackage for the production implementation.
type Provider interface {
	// CreditPackURL returns the checkout URL for a credit pack.
	CreditPackURL(ctx context.Context, pack string) (string, error)

	// ProURL returns the checkout URL for the pro subscription.
	ProURL(ctx context.Context) (string, error)
}

// CreditPacks is the fixed set of purchasable credit-pack identifiers.
var CreditPacks = map[string]bool{
	"starter": true,
	"plus":    true,
	"studio":  true,
}

// ValidPack reports whether pack names a known credit pack.
func ValidPack(pack string) bool {
	return CreditPacks[pack]
}
