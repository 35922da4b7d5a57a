package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	cfg "github.com/swapset/crypto-exchange/settlement/config"
	"github.com/swapset/crypto-exchange/settlement/internal/handlers"
	"github.com/swapset/crypto-exchange/settlement/internal/notify"
	"github.com/swapset/crypto-exchange/settlement/internal/scheduler"
	"github.com/swapset/crypto-exchange/settlement/internal/usecases"
	"github.com/swapset/crypto-exchange/settlement/internal/usecases/repository"
	"github.com/swapset/crypto-exchange/settlement/internal/workers"
	"github.com/swapset/crypto-exchange/settlement/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting settlement coordinator",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"server_port", config.HTTP.Port,
		"redis_addr", config.Redis.Addr,
		"order_ttl", config.Expiration.OrderTTL.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Database
	pg, err := database.New(config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
	)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		return
	}
	defer pg.Close()

	// Run database migrations
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}

	// Redis backs both the expiration timers and the notification queue.
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	defer rdb.Close()

	if err = rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "error", err)
		return
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	// Create repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	walletsRepository := repository.NewWalletsRepository(logger, pg)

	// Create services
	walletPool := usecases.NewWalletPoolService(logger, walletsRepository)
	expiration := scheduler.NewExpirationScheduler(logger, rdb, config.Expiration.OrderTTL)

	deliveryClient := notify.NewDeliveryClient(logger,
		config.Notifications.DeliveryURL,
		config.Notifications.DeliveryToken,
		config.Notifications.SendTimeout)

	dispatcher := notify.NewDispatcher(logger, queueClient, deliveryClient,
		config.Notifications.FallbackChatID,
		config.Notifications.MaxRetries,
		config.Notifications.SendTimeout)

	eventsHub := handlers.NewEventsHub(logger)

	orderService := usecases.NewOrderService(logger,
		ordersRepository, walletPool, expiration, dispatcher, eventsHub,
		config.Expiration.OrderTTL)

	// Notification worker drains the queue with bounded concurrency.
	notificationWorker := notify.NewWorker(logger, redisOpt, deliveryClient, notify.WorkerConfig{
		OperatorChatIDs: config.Notifications.OperatorChatIDs,
		Concurrency:     config.Notifications.Concurrency,
		BackoffBase:     config.Notifications.BackoffBase,
		SendTimeout:     config.Notifications.SendTimeout,
		RateLimit:       config.Notifications.RateLimit,
		RateLimitBurst:  config.Notifications.RateLimitBurst,
	})
	if err = notificationWorker.Start(); err != nil {
		logger.Error("Failed to start notification worker", "error", err)
		log.Fatal(err)
	}
	defer notificationWorker.Stop()

	// Expiration event listener and reconciliation sweep both converge on
	// the same idempotent callback.
	go func() {
		logger.Info("Starting expiration event listener")
		expiration.Listen(ctx, orderService.ExpireOrder)
	}()

	reconciler := workers.NewReconciler(logger, ordersRepository, orderService, config.Workers.SweepInterval)
	go func() {
		logger.Info("Starting expiration reconciler worker")
		reconciler.Start(ctx)
	}()

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, orderService, walletPool)

	router := mux.NewRouter()
	eventsHub.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}
