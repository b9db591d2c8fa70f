package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-btcpay/internal/auth"
	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/config"
	"github.com/noah-isme/toko-btcpay/internal/events"
	"github.com/noah-isme/toko-btcpay/internal/health"
	"github.com/noah-isme/toko-btcpay/internal/obs"
	"github.com/noah-isme/toko-btcpay/internal/order"
	"github.com/noah-isme/toko-btcpay/internal/payment"
	"github.com/noah-isme/toko-btcpay/internal/ratelimit"
	"github.com/noah-isme/toko-btcpay/internal/repo"
	"github.com/noah-isme/toko-btcpay/internal/resilience"
	"github.com/noah-isme/toko-btcpay/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	zerolog.DefaultContextLogger = &logger

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	}

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-btcpay",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.MigrateOnStart {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
	}

	pool, err := repo.Open(ctx, cfg.DatabaseURL, "toko-btcpay")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	orderStore := repo.OrderStore{DB: pool}
	methodStore := repo.PaymentMethodStore{DB: pool}
	channels := &channel.Service{Store: repo.ChannelStore{DB: pool}}

	bus := &events.Bus{
		Store:     repo.EventStore{DB: pool},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	orders := order.NewService(orderStore, methodStore, bus, logger, payment.MethodHandler{})

	breaker := resilience.NewBreaker(cfg.ProcessorBreakerMinRequests, cfg.ProcessorBreakerFailureRatio, cfg.ProcessorBreakerOpenFor).
		WithTarget("btcpay").
		WithLogger(logger)
	if cfg.MetricsEnabled {
		breaker = breaker.WithMetrics(resilience.NewBreakerMetrics(cfg.MetricsNamespace, nil))
	}
	processorHTTP := resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: cfg.ProcessorMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.ProcessorTimeout,
	}
	clients := payment.NewClientFactory(processorHTTP)
	methods := payment.NewResolver(methodStore)

	var ledger payment.EventLedger
	if cfg.WebhookEventLedgerTTL > 0 {
		ledger = payment.NewRedisLedger(redisClient, cfg.WebhookEventLedgerTTL)
	}
	coordinator := payment.NewCoordinator(methods, channels, orders, clients, ledger, logger.With().Str("component", "settlement").Logger())
	webhook := payment.Webhook{Settler: coordinator, MaxBodyBytes: cfg.WebhookMaxBodyBytes}

	intents := &payment.IntentCreator{
		Orders:  orders,
		Methods: methods,
		Clients: clients,
		Logger:  logger.With().Str("component", "intent").Logger(),
	}
	paymentHandler := &payment.Handler{Intents: intents}

	sessions, err := auth.NewService(auth.Config{
		Secret: cfg.SessionSecret,
		Issuer: cfg.SessionIssuer,
		TTL:    cfg.SessionTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise session service")
	}
	authHandler := &auth.Handler{Sessions: sessions}
	authMiddleware := auth.Middleware{Tokens: sessions}

	channelResolver := channel.NewResolver(channels, cfg.ChannelHeader, cfg.DefaultChannelToken)
	orderHandler := &order.Handler{Svc: orders}
	orderAdmin := &order.AdminHandler{Svc: orders}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL, Prefix: "idem:"}

	onLimiterError := func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}
	webhookLimiter, err := ratelimit.NewSlidingWindow(redisClient, cfg.WebhookRateLimit, "rl:webhook:")
	if err != nil {
		logger.Fatal().Err(err).Msg("configure webhook rate limit")
	}
	intentLimiter, err := ratelimit.NewFixedWindow(redisClient, cfg.IntentRateLimit, "rl:intent:")
	if err != nil {
		logger.Fatal().Err(err).Msg("configure intent rate limit")
	}
	webhookLimit := ratelimit.Handler{Limiter: webhookLimiter, Key: ratelimit.KeyByIP(""), OnError: onLimiterError}
	intentLimit := ratelimit.Handler{Limiter: intentLimiter, Key: ratelimit.KeyBySession(""), OnError: onLimiterError}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cfg.ChannelHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: pool, Redis: redisClient},
		DBTimeout:    cfg.HealthDBTimeout,
		RedisTimeout: cfg.HealthRedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	// BTCPay signs the raw body; the handler applies its own size bound.
	r.With(webhookLimit.Middleware).Post("/payments/btcpay", webhook.Handle)

	r.Route("/shop-api", func(shop chi.Router) {
		shop.Use(security.BodyLimit{Max: cfg.APIMaxBodyBytes}.Middleware)
		shop.Use(channelResolver.Middleware)
		shop.Use(authMiddleware.Authenticate)

		shop.Post("/session", authHandler.StartSession)

		shop.Group(func(s chi.Router) {
			s.Use(authMiddleware.RequireSession)
			s.With(intentLimit.Middleware, idem.Middleware).Post("/payments/btcpay/intent", paymentHandler.Intent)
			s.Get("/orders/active", orderHandler.Active)
			s.With(idem.Middleware).Post("/orders/active/transition", orderHandler.TransitionActive)
			s.Get("/orders/{code}", orderHandler.Get)
		})
	})

	r.Route("/admin-api", func(admin chi.Router) {
		admin.Use(security.BodyLimit{Max: cfg.APIMaxBodyBytes}.Middleware)
		admin.Use(channelResolver.Middleware)
		admin.Use(authMiddleware.RequireAdmin)
		admin.Patch("/orders/{code}/state", orderAdmin.PatchState)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop, release := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer release()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-stop.Done()
	health.SetReady(false)
	logger.Info().Msg("server draining")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
