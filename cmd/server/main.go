package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/handlers"
	"github.com/ruralpay/ledger/internal/lease"
	"github.com/ruralpay/ledger/internal/logger"
	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/ruralpay/ledger/internal/services"
)

// @title Balance Ledger API
// @version 1.0
// @description Accounts, transactions, daily balance history and spending statistics
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("migrations.path", "MIGRATIONS_PATH")
	viper.BindEnv("log.level", "LOG_LEVEL")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("migrations.path", "migrations")
	viper.SetDefault("log.level", "info")

	configErr := viper.ReadInConfig()

	log.Logger = logger.New(viper.GetString("log.level"))
	if configErr != nil {
		log.Info().Err(configErr).Msg("Config file not found, using environment and defaults")
	}

	ledgerCfg := config.LoadLedgerConfig()

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		log.Fatal().Msg("JWT_SECRET_KEY is required")
	}

	// Initialize storage
	db, err := database.InitDB(database.GetConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(db, viper.GetString("migrations.path")); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisClient := database.InitRedis(context.Background())
	var importLease lease.Lease
	if redisClient != nil {
		defer redisClient.Close()
		importLease = lease.NewRedisLease(redisClient, "ledger:")
	} else {
		importLease = lease.NewMemoryLease()
	}

	// Initialize services
	auditLogger := audit.NewAuditLogger(os.Stdout)
	uow := repository.NewUnitOfWork(db)

	accountRepo := repository.NewAccountRepository()
	balanceRepo := repository.NewBalanceRepository()
	transactionRepo := repository.NewTransactionRepository()
	refundLinkRepo := repository.NewRefundLinkRepository()
	currencyRepo := repository.NewCurrencyRepository()

	currencyService := services.NewCurrencyService(currencyRepo, uow.Reader(), redisClient, ledgerCfg.RateCacheTTL, ledgerCfg.DefaultRefCurrency)
	balanceLedger := services.NewBalanceLedger(accountRepo, balanceRepo, currencyService)
	refundLinker := services.NewRefundLinker(transactionRepo, refundLinkRepo)

	transactionService := services.NewTransactionService(
		uow, accountRepo, transactionRepo, balanceLedger,
		services.NewTransferLinker(transactionRepo), refundLinker, currencyService, auditLogger,
	)
	accountService := services.NewAccountService(uow, accountRepo, balanceLedger, currencyService, auditLogger)
	balanceService := services.NewBalanceService(uow, accountRepo, balanceRepo)
	refundService := services.NewRefundService(uow, transactionRepo, refundLinkRepo, refundLinker, auditLogger)
	statsService := services.NewStatsService(uow, transactionRepo)

	api := &handlers.API{
		Transactions: handlers.NewTransactionHandler(transactionService),
		Accounts:     handlers.NewAccountHandler(accountService),
		Balances:     handlers.NewBalanceHandler(balanceService, ledgerCfg.DefaultHistoryWindow),
		Refunds:      handlers.NewRefundHandler(refundService),
		Stats:        handlers.NewStatsHandler(statsService),
		Ingest:       handlers.NewIngestHandler(transactionService, accountService, importLease, ledgerCfg),
	}

	httpLimiter := mW.NewRateLimiter(ledgerCfg.HTTPRatePerSecond, ledgerCfg.HTTPBurst, 3*time.Minute)
	stopCleanup := make(chan struct{})
	go httpLimiter.Run(time.Minute, stopCleanup)
	go api.Ingest.Limiter().Run(time.Minute, stopCleanup)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(log.Logger))
	r.Use(middleware.Recoverer)
	r.Use(mW.Metrics)
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation, generated into ./docs by swag init
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth([]byte(secret)))
		r.Use(mW.RateLimit(httpLimiter, mW.ClientIP))
		api.Mount(r)
	})

	port := viper.GetString("server.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down...")
	close(stopCleanup)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
