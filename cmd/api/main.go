package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"lexops/api/internal/app"
	"lexops/api/internal/blob"
	"lexops/api/internal/config"
	"lexops/api/internal/email"
	"lexops/api/internal/feed"
	"lexops/api/internal/outlook"
	"lexops/api/internal/search"
	"lexops/api/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connection failed: %v", err)
	}
	cancel()

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("object store connection failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	publisher := feed.NewPublisher(redisClient)

	pglike := search.NewPgLike(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pglike)
	searchService.ReindexAllFromPG(ctx)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, assignment notifications disabled")
	}

	var outlookService *outlook.Service
	if cfg.MicrosoftClientID != "" && cfg.MicrosoftClientSecret != "" {
		outlookService = outlook.NewService(outlook.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURI:  cfg.MicrosoftRedirectURI,
		}, outlook.NewSessionStore(redisClient))
	} else {
		log.Printf("Microsoft client not configured, Outlook integration disabled")
	}

	service := app.New(dataStore, blobs, publisher, redisClient, searchService, emailService)
	httpServer := app.NewHTTPServer(service, outlookService, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("LexOps API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
