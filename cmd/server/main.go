// Command server runs the FitForPDF funnel server: the thin API routes that
// proxy the CleanSheet conversion backend and the billing backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fitforpdf/fitforpdf-web/pkg/checkout"
	checkoutstripe "github.com/fitforpdf/fitforpdf-web/pkg/checkout/stripe"
	"github.com/fitforpdf/fitforpdf-web/pkg/proxy"
	proxyprom "github.com/fitforpdf/fitforpdf-web/pkg/proxy/metrics/prometheus"
	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
	"github.com/fitforpdf/fitforpdf-web/storage/memory"
	redisstore "github.com/fitforpdf/fitforpdf-web/storage/redis"
)

const shutdownTimeout = 10 * time.Second

const defaultFreeExportLimit = 5

// devQuotaCounter builds the local free-export counter when DEV_QUOTA=1:
// Redis-backed when REDIS_ADDR is set, in-memory otherwise.
func devQuotaCounter(logger zerolog.Logger) *quota.Counter {
	if os.Getenv("DEV_QUOTA") != "1" {
		return nil
	}

	limit := defaultFreeExportLimit
	if raw := os.Getenv("FREE_EXPORT_LIMIT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var store quota.Store = memory.New()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		s, err := redisstore.New(redis.NewClient(&redis.Options{Addr: addr}), redisstore.DefaultConfig())
		if err != nil {
			logger.Warn().Err(err).Msg("redis store unavailable, using in-memory counter")
		} else {
			store = s
		}
	}

	logger.Info().Int("limit", limit).Msg("dev quota counter enabled")
	return quota.NewCounter(store, limit)
}

// stripeProvider builds the direct Stripe checkout fallback from
// STRIPE_API_KEY and friends. Only consulted when BACKEND_CHECKOUT_URL is
// unset.
func stripeProvider(logger zerolog.Logger) checkout.Provider {
	apiKey := os.Getenv("STRIPE_API_KEY")
	if apiKey == "" {
		return nil
	}

	provider, err := checkoutstripe.NewProvider(checkoutstripe.Config{
		APIKey: apiKey,
		PackPrices: map[string]string{
			"starter": os.Getenv("STRIPE_PRICE_STARTER"),
			"plus":    os.Getenv("STRIPE_PRICE_PLUS"),
			"studio":  os.Getenv("STRIPE_PRICE_STUDIO"),
		},
		ProPriceID: os.Getenv("STRIPE_PRO_PRICE_ID"),
		SuccessURL: os.Getenv("CHECKOUT_SUCCESS_URL"),
		CancelURL:  os.Getenv("CHECKOUT_CANCEL_URL"),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("stripe checkout provider not configured")
		return nil
	}
	return provider
}

func main() {
	// A local .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "fitforpdf-web").Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	proxyHandler := proxy.NewHandler(proxy.Config{
		UpstreamURL:       os.Getenv(proxy.EnvUpstreamURL),
		APIKey:            os.Getenv(proxy.EnvAPIKey),
		SampleFixturePath: os.Getenv("SAMPLE_FIXTURE_PATH"),
		DevQuota:          devQuotaCounter(logger),
		Logger:            logger,
		Metrics:           proxyprom.NewMetrics(registry, "fitforpdf"),
	})

	checkoutHandler := checkout.NewHandler(checkout.Config{
		BackendURL: os.Getenv(checkout.EnvBackendURL),
		APIKey:     os.Getenv(proxy.EnvAPIKey),
		Provider:   stripeProvider(logger),
		Logger:     logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/api/render", proxyHandler.Render)
	r.HandleFunc("/api/quota", proxyHandler.Quota)
	r.HandleFunc("/api/sample/premium", proxyHandler.Sample)
	r.HandleFunc("/api/checkout", checkoutHandler.Checkout)
	r.HandleFunc("/api/credits/purchase/checkout", checkoutHandler.CreditsPurchase)
	r.HandleFunc("/api/plan/pro/checkout", checkoutHandler.ProPlan)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("funnel server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("server stopped")
}
