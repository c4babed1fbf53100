package router

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"familynest/internal/api/v1/handler"
	"familynest/internal/config"
	"familynest/internal/metrics"
	"familynest/internal/middleware"
	"familynest/internal/model"
	"familynest/internal/repository"
	"familynest/internal/service"
	"familynest/internal/supabase"

	"github.com/go-playground/validator/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New opens the database and assembles the HTTP stack:
// logger -> CORS -> session gate -> routes.
func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *sql.DB, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	db, err := sql.Open("pgx", prepareDSN(cfg.DBConnectionString, cfg.IsDevelopment()))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open DB connection")
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		db.Close()
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var provider middleware.SessionProvider
	if cfg.AuthConfigured() {
		provider = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, logger, supabase.WithSecureCookies(!cfg.IsDevelopment()))
	}

	h := Handler(cfg, Deps{
		Billing:  repository.NewBillingRepo(db),
		Members:  repository.NewMemberRepo(db),
		Payments: service.NewStripeGateway(cfg.StripeSecretKey),
		Auth:     provider,
		Metrics:  m,
		Gatherer: registry,
	}, logger)
	return h, db, nil
}

// Deps are the collaborators Handler wires together.
type Deps struct {
	Billing  repository.BillingRepository
	Members  repository.MemberRepository
	Payments service.PaymentGateway
	// Auth may be nil, which makes the session gate a pass-through.
	Auth     middleware.SessionProvider
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Handler builds the routed, middleware-wrapped handler from already
// constructed dependencies.
func Handler(cfg *config.Config, deps Deps, logger zerolog.Logger) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())

	billingSvc := service.NewBillingService(cfg, deps.Billing, deps.Payments, deps.Metrics, logger)
	familySvc := service.NewFamilyService(deps.Members, deps.Billing, logger)

	webhookHandler := handler.NewWebhookHandler(billingSvc, deps.Metrics, logger)
	billingHandler := handler.NewBillingHandler(billingSvc, familySvc, validate, logger)

	authMiddleware := middleware.RequireUser(cfg.SupabaseJWTSecret, logger)
	roleMiddleware := func(min model.Role) func(http.Handler) http.Handler {
		return middleware.RequireFamilyRole(familySvc, min, logger)
	}

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	webhookHandler.RegisterRoutes(apiV1Mux)
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware, roleMiddleware)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	if deps.Gatherer != nil {
		metrics.RegisterEndpoint(mux, deps.Gatherer)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	gate := middleware.SessionGate(deps.Auth, middleware.GateOptions{
		ProtectedPrefix: cfg.ProtectedPrefix,
		LoginPath:       cfg.LoginPath,
		RefreshWindow:   cfg.RefreshWindow,
	}, deps.Metrics, logger)

	return middleware.LoggerMiddleware(logger)(c.Handler(gate(mux)))
}

// prepareDSN disables SSL for local databases and, elsewhere, forces the
// simple query protocol so transaction poolers like pgbouncer work.
func prepareDSN(dsn string, development bool) string {
	isURL := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	appendParam := func(param string) {
		switch {
		case !isURL:
			dsn += " " + param
		case strings.Contains(dsn, "?"):
			dsn += "&" + param
		default:
			dsn += "?" + param
		}
	}

	if development {
		if !strings.Contains(dsn, "sslmode") {
			appendParam("sslmode=disable")
		}
		return dsn
	}
	if !strings.Contains(dsn, "default_query_exec_mode") {
		appendParam("default_query_exec_mode=simple_protocol")
	}
	return dsn
}
