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
	"github.com/jogardn/pizza-shack/internal/agent"
	"github.com/jogardn/pizza-shack/internal/cdp"
	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/internal/config"
	"github.com/jogardn/pizza-shack/internal/events"
	"github.com/jogardn/pizza-shack/internal/middleware"
	"github.com/jogardn/pizza-shack/internal/oauth"
	"github.com/jogardn/pizza-shack/internal/orders"
	"github.com/jogardn/pizza-shack/internal/session"
	"github.com/jogardn/pizza-shack/internal/websocket"
	"github.com/sirupsen/logrus"
)

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

	var sessions session.Store
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		sessions = redisStore
	} else {
		logger.Warn("REDIS_URL not set - chat sessions are kept in memory")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	authorizer := oauth.NewManager(oauth.Config{
		IDPBaseURL:   cfg.Agent.IDPBaseURL,
		ClientID:     cfg.Agent.ClientID,
		ClientSecret: cfg.Agent.ClientSecret,
		RedirectURI:  cfg.Agent.RedirectURI,
		AgentID:      cfg.Agent.AgentID,
		AgentSecret:  cfg.Agent.AgentSecret,
		Resource:     cfg.Agent.Resource,
		AuthTimeout:  cfg.Agent.AuthTimeout,
	}, sessions, logger)

	api := orders.NewClient(cfg.Agent.PizzaAPIURL, cfg.Agent.PizzaAPIFallbackURL, logger)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 5, Timeout: 30 * time.Second}, logger)

	var profiles agent.Profiles
	if cfg.CDP.BaseURL != "" {
		breaker := breakers.GetOrCreate("cdp", circuitbreaker.Config{
			MaxFailures: 3,
			Timeout:     time.Minute,
			IsFailure: func(err error) bool {
				return !errors.Is(err, cdp.ErrProfileNotFound)
			},
		})
		profiles = cdp.NewClient(cfg.CDP.BaseURL, cfg.CDP.Timeout, breaker, logger)
		logger.WithField("url", cfg.CDP.BaseURL).Info("CDP personalization enabled")
	}

	assistant := agent.NewAssistant(api, authorizer, sessions, profiles, cfg.Agent.OrderScopes, logger)

	hub := websocket.NewHub(assistant, cfg.CORS.Origins, logger)
	go hub.Run(ctx)

	if cfg.KafkaBrokers != "" {
		subscriber, err := events.NewStatusSubscriber(cfg.KafkaBrokers, "pizza-agent-notifications", hub, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create order status subscriber")
		}
		defer subscriber.Close()

		go func() {
			if err := subscriber.Start(ctx); err != nil {
				logger.WithError(err).Error("Order status subscriber stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))

	router.HandleFunc("/chat", hub.HandleWebSocket)
	router.HandleFunc("/callback", callbackHandler(assistant, hub, logger)).Methods(http.MethodGet)
	router.HandleFunc("/health", healthCheck(hub)).Methods(http.MethodGet)
	router.HandleFunc("/health/all", allServicesHealthCheck(api, breakers, logger)).Methods(http.MethodGet)
	router.HandleFunc("/health/breakers/{name}/reset", resetBreaker(breakers)).Methods(http.MethodPost)

	cors := middleware.CORS(middleware.CORSOptions{
		Origins:     cfg.CORS.Origins,
		Methods:     cfg.CORS.Methods,
		Headers:     cfg.CORS.Headers,
		Credentials: cfg.CORS.Credentials,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Agent.Port,
		Handler:      cors(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Agent.Port,
			"api_url": cfg.Agent.PizzaAPIURL,
		}).Info("Starting pizza agent")
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
