package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/internal/auth"
	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/internal/config"
	"github.com/jogardn/pizza-shack/internal/events"
	"github.com/jogardn/pizza-shack/internal/identity"
	"github.com/jogardn/pizza-shack/internal/middleware"
	"github.com/jogardn/pizza-shack/internal/orders"
	"github.com/jogardn/pizza-shack/internal/store"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const memoryDSN = "memory://"

type repository interface {
	orders.Repository
	SeedMenu(ctx context.Context, items []models.MenuItem) (int, error)
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo := openRepository(ctx, cfg, logger)
	defer closeRepo()

	seeded, err := repo.SeedMenu(ctx, store.DefaultMenu())
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed menu")
	}
	if seeded > 0 {
		logger.WithField("items", seeded).Info("Menu seeded")
	}

	// Kafka is optional; without brokers the API runs without events
	var publisher orders.EventPublisher
	if cfg.KafkaBrokers != "" {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = producer
	} else {
		logger.Info("KAFKA_BROKERS not set - order events disabled")
	}

	service := orders.NewService(repo, publisher, logger)

	if cfg.KafkaBrokers != "" {
		consumer, err := events.NewStatusConsumer(cfg.KafkaBrokers, "pizza-api-status", service, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create status consumer")
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Error("Status consumer stopped")
			}
		}()
	}

	validator, mode := newValidator(cfg.Auth, logger)
	authn := auth.NewAuthenticator(validator, cfg.Auth.TokenHeaders, logger)

	var scopeMap *auth.ScopeMap
	if cfg.Auth.OpenAPISpecPath != "" {
		scopeMap, err = auth.LoadScopeMap(cfg.Auth.OpenAPISpecPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load OpenAPI scope map")
		}
		logger.WithField("path", cfg.Auth.OpenAPISpecPath).Info("Route scopes loaded from OpenAPI document")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
	if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		logger.WithError(err).Fatal("Invalid TRUSTED_PROXIES")
	}
	go limiter.Run(ctx, time.Minute)

	router := mux.NewRouter()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(limiter.Middleware())

	if cfg.IDV.BaseURL != "" {
		breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 5, Timeout: 30 * time.Second}, logger)
		breaker := breakers.GetOrCreate("identity-verification", circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			IsFailure: func(err error) bool {
				var providerErr *identity.ProviderError
				return !errors.As(err, &providerErr) || providerErr.StatusCode >= 500
			},
		})
		verifier := identity.NewClient(cfg.IDV.BaseURL, cfg.IDV.Timeout, breaker, logger)
		identity.NewHandler(verifier, authn, logger).Register(router)
		logger.WithField("url", cfg.IDV.BaseURL).Info("Identity verification routes enabled")
	}

	handler := orders.NewHandler(service, authn, scopeMap, orders.HandlerConfig{
		TokenValidation: mode,
		EventsEnabled:   cfg.KafkaBrokers != "",
	}, logger)
	handler.Register(router)

	cors := middleware.CORS(middleware.CORSOptions{
		Origins:     cfg.CORS.Origins,
		Methods:     cfg.CORS.Methods,
		Headers:     cfg.CORS.Headers,
		Credentials: cfg.CORS.Credentials,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      cors(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":             cfg.Port,
			"token_validation": mode,
		}).Info("Starting pizza API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

// openRepository uses PostgreSQL unless DATABASE_URL is memory://.
func openRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository, func()) {
	if cfg.Database.URL == memoryDSN {
		logger.Warn("Using in-memory store - data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	pg, err := store.Open(ctx, cfg.Database.DSN(), 30, 2*time.Second, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	if err := pg.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	return pg, func() { pg.Close() }
}

// newValidator verifies signatures itself only when backend validation is
// enabled. Otherwise the gateway in front of the API has already done so.
func newValidator(cfg config.AuthConfig, logger *logrus.Logger) (auth.Validator, string) {
	if !cfg.BackendValidation {
		return auth.NewDecoder(), "gateway"
	}

	vc := auth.VerifierConfig{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Secret:   cfg.Secret,
	}
	if cfg.JWKSURL != "" {
		vc.JWKS = auth.NewJWKS(cfg.JWKSURL, logger)
	}
	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure token verification")
	}
	return verifier, "backend"
}
