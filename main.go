package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storewatcher/config"
	"storewatcher/internal/crawler"
	"storewatcher/internal/fetcher"
	"storewatcher/internal/scheduler"
	"storewatcher/internal/store"
	"storewatcher/internal/useragent"
	"storewatcher/logger"
	"storewatcher/services/cache"
	"storewatcher/services/notifier"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	stores, err := config.LoadStores(cfg.StoresFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load store configuration")
	}
	if len(stores) == 0 {
		log.Fatal().Str("file", cfg.StoresFile).Msg("No stores configured")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Int("stores", len(stores)).
		Dur("tick_interval", cfg.TickInterval).
		Int("max_concurrent", cfg.MaxConcurrentCrawls).
		Msg("Starting application")

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	cacheSvc := cache.NewMemcacheService(cfg.MemcacheAddr)
	logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)

	redisNotifier := notifier.NewRedisNotifier(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLength)
	defer redisNotifier.Close()
	logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)", cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)

	rotator := useragent.New(cfg.UserAgentsFile, cfg.AgentCursorFile)
	f := fetcher.New(rotator, cacheSvc)
	c := crawler.New(f, db)

	sched := scheduler.New(stores, c, db, redisNotifier, cfg.TickInterval, cfg.MaxConcurrentCrawls)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
	case <-schedDone:
		log.Info().Msg("Scheduler exited")
	}

	// Graceful shutdown: await in-flight store tasks before releasing
	// the database and network resources via the deferred closes.
	sched.Shutdown()
	<-schedDone
	log.Info().Msg("Shut down gracefully")
}
