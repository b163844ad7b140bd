package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitforpdf/fitforpdf-web/internal/httputil"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxRequestBodyBytes = 1 << 16
)

// Config holds checkout handler configuration.
type Config struct {
	// BackendURL is the billing backend base URL (BACKEND_CHECKOUT_URL).
	BackendURL string

	// APIKey is attached to upstream requests when set.
	APIKey string

	// Provider serves checkout sessions directly when no BackendURL is
	// configured. With neither set, checkout routes report the missing
	// environment variable.
	Provider Provider

	// Client is optional; a default is used when nil.
	Client *http.Client

	Logger zerolog.Logger
}

// Handler forwards purchase intents upstream, or serves them from a local
// Provider when no billing backend is configured.
type Handler struct {
	config Config
	client *http.Client
}

// NewHandler creates a checkout handler.
func NewHandler(config Config) *Handler {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Handler{config: config, client: client}
}

// checkoutRequest is the inbound body shared by the checkout routes.
type checkoutRequest struct {
	Pack string `json:"pack,omitempty"`
}

// checkoutResponse is the upstream success body; URL must be non-empty.
type checkoutResponse struct {
	URL string `json:"url"`
}

// Checkout handles POST /api/checkout (generic purchase intent): a pack
// buys credits, no pack means the pro plan.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "/checkout", nil, func(ctx context.Context, req checkoutRequest) (string, error) {
		if req.Pack != "" {
			return h.config.Provider.CreditPackURL(ctx, req.Pack)
		}
		return h.config.Provider.ProURL(ctx)
	})
}

// CreditsPurchase handles POST /api/credits/purchase/checkout. The pack
// must name a known credit pack; invalid input is rejected before any
// upstream call.
func (h *Handler) CreditsPurchase(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "/credits/purchase/checkout",
		func(req checkoutRequest) bool { return ValidPack(req.Pack) },
		func(ctx context.Context, req checkoutRequest) (string, error) {
			return h.config.Provider.CreditPackURL(ctx, req.Pack)
		})
}

// ProPlan handles POST /api/plan/pro/checkout.
func (h *Handler) ProPlan(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "/plan/pro/checkout", nil,
		func(ctx context.Context, _ checkoutRequest) (string, error) {
			return h.config.Provider.ProURL(ctx)
		})
}

func (h *Handler) forward(
	w http.ResponseWriter, r *http.Request, path string,
	validate func(checkoutRequest) bool,
	local func(context.Context, checkoutRequest) (string, error),
) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
		return
	}

	var req checkoutRequest
	raw, err := httputil.ReadBodyStrict(w, r, maxRequestBodyBytes)
	switch {
	case errors.Is(err, httputil.ErrEmptyBody):
		// Bodiless intents are fine; the pro-plan route needs no input.
	case errors.Is(err, httputil.ErrPayloadTooLarge):
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, httputil.ErrorBody{Error: "Request body too large"})
		return
	case err != nil:
		httputil.WriteError(w, http.StatusBadRequest, httputil.ErrorBody{Error: "Invalid request body"})
		return
	default:
		if err := json.Unmarshal(raw, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, httputil.ErrorBody{Error: "Invalid request body"})
			return
		}
	}

	// Input validation happens before contacting upstream.
	if validate != nil && !validate(req) {
		httputil.WriteError(w, http.StatusBadRequest, httputil.ErrorBody{
			Error:   ErrInvalidPack.Error(),
			Details: map[string]interface{}{"pack": req.Pack},
		})
		return
	}

	if h.config.BackendURL == "" {
		if h.config.Provider != nil {
			h.serveLocal(w, r, req, local)
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{
			Error:   "Missing required environment variable(s)",
			Details: map[string]interface{}{"missing": []string{EnvBackendURL}},
		})
		return
	}

	body, _ := json.Marshal(req)
	upstreamURL := strings.TrimSuffix(h.config.BackendURL, "/") + path
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{Error: "Failed to build upstream request"})
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		upReq.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	resp, err := h.client.Do(upReq)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{
			Error:   "Upstream request failed",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxRequestBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Upstream request failed"})
		return
	}

	// 501 passes through unchanged: the client shows "coming soon", not an
	// error.
	if resp.StatusCode == http.StatusNotImplemented {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotImplemented)
		_, _ = w.Write(raw)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var upstream map[string]interface{}
		_ = json.Unmarshal(raw, &upstream)
		msg := "Checkout failed"
		if s, ok := upstream["error"].(string); ok && s != "" {
			msg = s
		}
		httputil.WriteError(w, resp.StatusCode, httputil.ErrorBody{
			Error:   msg,
			Details: upstream["details"],
		})
		return
	}

	var out checkoutResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.URL == "" {
		h.config.Logger.Error().Str("path", path).Msg("billing backend returned success without a url")
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Invalid checkout response"})
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, out)
}

// serveLocal answers the route from the configured Provider, keeping the
// same wire contract as the forwarding path: 501 for flows that are not
// sellable yet, 400 for bad packs, {url} on success.
func (h *Handler) serveLocal(
	w http.ResponseWriter, r *http.Request, req checkoutRequest,
	local func(context.Context, checkoutRequest) (string, error),
) {
	url, err := local(r.Context(), req)
	switch {
	case errors.Is(err, ErrComingSoon):
		httputil.WriteError(w, http.StatusNotImplemented, httputil.ErrorBody{Error: "Not yet available"})
	case errors.Is(err, ErrInvalidPack):
		httputil.WriteError(w, http.StatusBadRequest, httputil.ErrorBody{
			Error:   ErrInvalidPack.Error(),
			Details: map[string]interface{}{"pack": req.Pack},
		})
	case err != nil:
		h.config.Logger.Error().Err(err).Msg("checkout provider failed")
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Checkout failed"})
	case url == "":
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Invalid checkout response"})
	default:
		_ = httputil.WriteJSON(w, http.StatusOK, checkoutResponse{URL: url})
	}
}
