package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/app"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/config"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/crypto"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/logger"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/services"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/streaming"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v\n", err)
	}

	// Initialize logger
	zl, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v\n", err)
	}
	defer zl.Sync()

	zl.Info("Starting CourseVault kernel")

	// Open the vault and run migrations
	store, err := vault.Open(cfg.DatabasePath())
	if err != nil {
		zl.Fatal("Failed to open vault", zap.Error(err))
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		zl.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	courseRepo := vault.NewCourseRepository(store)
	sectionRepo := vault.NewSectionRepository(store)
	lessonRepo := vault.NewLessonRepository(store)
	mediaRepo := vault.NewMediaRepository(store)
	outboxRepo := vault.NewOutboxRepository(store)
	settingsRepo := vault.NewSettingsRepository(store)
	quizRepo := vault.NewQuizRepository(store)
	noteRepo := vault.NewNoteRepository(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Derive the master key; it lives in memory only
	cryptoService := crypto.NewService()
	salt, err := settingsRepo.KeySalt(ctx, cryptoService.GenerateSalt)
	if err != nil {
		zl.Fatal("Failed to load key salt", zap.Error(err))
	}
	key := cryptoService.DeriveKey(cfg.Vault.Passphrase, salt)

	deviceID, err := settingsRepo.DeviceID(ctx)
	if err != nil {
		zl.Fatal("Failed to load device id", zap.Error(err))
	}

	// Initialize the LMS client
	lmsClient, err := client.New(client.Options{
		BaseURL:  cfg.Server.BaseURL,
		DeviceID: deviceID,
		Timeout:  cfg.Server.RequestTimeout,
	}, zl)
	if err != nil {
		zl.Fatal("Failed to initialize LMS client", zap.Error(err))
	}

	// Initialize services
	courseService := services.NewCourseService(courseRepo, sectionRepo, lessonRepo, mediaRepo, cryptoService, key, cfg.MediaDir(), zl)
	downloadService := services.NewDownloadService(lmsClient, courseRepo, lessonRepo, mediaRepo, cryptoService, cryptoService, key, services.DownloadServiceOptions{
		Concurrency:     cfg.Download.Concurrency,
		PackageDeadline: cfg.Download.PackageDeadline,
		MediaDir:        cfg.MediaDir(),
	}, zl)
	syncService := services.NewSyncService(outboxRepo, lmsClient, zl)

	// Start the loopback streaming server
	streamServer := streaming.NewServer(key, streaming.Options{TTL: cfg.Streaming.StreamTTL}, zl)
	if err := streamServer.Start(); err != nil {
		zl.Fatal("Failed to start streaming server", zap.Error(err))
	}

	kernel := app.New(app.Options{
		Client:    lmsClient,
		Courses:   courseService,
		Downloads: downloadService,
		Syncer:    syncService,
		Streamer:  streamServer,
		Media:     mediaRepo,
		Quizzes:   quizRepo,
		Notes:     noteRepo,
		MediaDir:  cfg.MediaDir(),
		Logger:    zl,
	})

	// Background outbox sweeper
	go kernel.RunSync(ctx, cfg.Sync.Interval)

	// Requeue downloads interrupted by the last shutdown
	if _, err := kernel.ResumeDownloads(ctx, services.DownloadOptions{IncludeMedia: true}); err != nil {
		zl.Warn("Failed to requeue pending downloads", zap.Error(err))
	}

	zl.Info("CourseVault kernel ready",
		zap.String("streamingUrl", streamServer.BaseURL()),
		zap.String("vaultDir", cfg.Vault.Dir))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := streamServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("Streaming server shutdown failed", zap.Error(err))
	}

	zl.Info("CourseVault kernel stopped")
}
