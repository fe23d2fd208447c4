package http

import (
	"context"
	"fmt"
	"log"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"askboard/internal/cache"
	"askboard/internal/config"
	"askboard/internal/database"
	"askboard/internal/handler"
	"askboard/internal/platform"
	"askboard/internal/queue"
	"askboard/internal/redis"
	"askboard/internal/repository"
	"askboard/internal/service"
	"askboard/internal/sweeper"
	authmw "askboard/internal/transport/http/middleware"
	"askboard/internal/worker"
)

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Connect to Database
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 3. Connect to Redis
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Println("Connected to Redis successfully")

	// 4. Platform client, repositories, services
	messenger := platform.NewHTTPClient(cfg.BotAPIBaseURL, cfg.BotToken)

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	bindingRepo := repository.NewBindingRepository(db)

	cleanup := cache.NewCleanupSchedule(redisClient.Client)
	publisher := queue.NewPublisher(redisClient.Client)

	tokens := service.NewTokenCodec(cfg.ActionTokenSecret)
	renderer := service.NewRenderer(tokens)
	deliverySvc := service.NewDeliveryService(messenger, userRepo, postRepo, bindingRepo, renderer, cleanup)
	composeSvc := service.NewComposeService(userRepo, postRepo, publisher)
	postSvc := service.NewPostService(postRepo, publisher)
	gallerySvc := service.NewGalleryService(postRepo)

	var exportSvc *service.ExportService
	if cfg.R2BucketName != "" {
		exportSvc, err = service.NewExportService(ctx, cfg, messenger, postRepo, userRepo)
		if err != nil {
			return fmt.Errorf("failed to create export service: %w", err)
		}
	} else {
		log.Println("R2 not configured, export disabled")
	}

	// 5. Bot, per-chat dispatcher, webhook
	bot := handler.NewBot(userRepo, bindingRepo, composeSvc, postSvc, gallerySvc, deliverySvc, exportSvc, renderer, tokens, messenger)
	dispatcher := handler.NewDispatcher(bot.HandleUpdate)
	limiter := authmw.NewPerKeyLimiter(cfg.RateLimitPerMinute)
	webhook := NewWebhookHandler(dispatcher, limiter)

	// 6. Workers and sweeper
	consumer := queue.NewConsumer(redisClient.Client)
	workerHandler := worker.NewHandler(userRepo, postRepo, deliverySvc, worker.DefaultFanoutConcurrency)
	manager := worker.NewManager(consumer, workerHandler, worker.ManagerConfig{WorkerCount: cfg.WorkerCount})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer manager.Stop()

	sw := sweeper.New(bindingRepo, deliverySvc, gallerySvc, cleanup, messenger,
		time.Duration(cfg.RefreshIntervalSeconds)*time.Second,
		time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
	)
	sw.Start(ctx)
	defer sw.Stop()

	// 7. HTTP server with graceful shutdown
	router := NewRouter(RouterConfig{Webhook: webhook, WebhookSecret: cfg.WebhookSecret})
	server := &stdhttp.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let in-flight chat updates finish before workers and sweeper stop.
	dispatcher.Wait()
	return nil
}
