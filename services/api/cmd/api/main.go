package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mindmate/internal/ratelimit"
	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/pkg/queue"
	"mindmate/pkg/storage"
	"mindmate/pkg/store"
	"mindmate/services/api/internal/app"
	"mindmate/services/api/internal/config"
	"mindmate/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenTTL, _ := config.ParseDuration(cfg.TokenTTL, time.Hour)
	signedURLTTL, _ := config.ParseDuration(cfg.SignedURLTTL, time.Hour)
	rateWindow, _ := config.ParseDuration(cfg.RateLimitWindow, time.Minute)

	dataStore, closeStore, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	objects, files, err := openObjects(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := objects.(io.Closer); ok {
		defer closer.Close()
	}
	blobs := storage.NewBlobStore(objects, storage.BlobConfig{
		PublicBaseURL: cfg.StoragePublicURL,
		URLTTL:        signedURLTTL,
	})

	tasks, closeQueue, err := openQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeQueue()

	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if redisClient != nil {
		revoker = auth.NewRedisRevoker(redisClient)
	}
	tokenOpts := auth.TokenOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, TTL: tokenTTL}
	var tokens *auth.Tokens
	if cfg.JWTPrivateKeyPath != "" {
		tokens, err = auth.NewRS256TokensFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTKeyID, revoker, tokenOpts)
	} else {
		tokens, err = auth.NewHS256Tokens(cfg.JWTSecret, revoker, tokenOpts)
	}
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	signupLimiter, err := newLimiter(redisClient, "signup", cfg.SignupRateLimit, rateWindow)
	if err != nil {
		return err
	}
	loginLimiter, err := newLimiter(redisClient, "login", cfg.LoginRateLimit, rateWindow)
	if err != nil {
		return err
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	subjects := app.NewSubjectRegistry(dataStore)
	httpServer, err := server.New(server.Config{
		Accounts:           app.NewAccounts(dataStore, tokens),
		Subjects:           subjects,
		Documents:          app.NewDocumentRegistry(dataStore, subjects, blobs, tasks),
		Tasks:              tasks,
		Files:              files,
		InternalToken:      cfg.InternalToken,
		SignupLimiter:      signupLimiter,
		LoginLimiter:       loginLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		HealthChecks: map[string]server.HealthCheck{
			"database": dataStore.Ping,
			"queue":    tasks.Ping,
		},
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening",
			"addr", addr,
			"storage", cfg.StorageProvider,
			"queue", cfg.QueueBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(dsn string) (store.Store, func(), error) {
	if strings.EqualFold(strings.TrimSpace(dsn), "memory") {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	gormStore, err := store.NewGormStore(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	slog.Info("store ready", "driver", gormStore.Driver())
	return gormStore, func() { _ = gormStore.Close() }, nil
}

func openObjects(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, *storage.FileStore, error) {
	switch cfg.StorageProvider {
	case "minio":
		objects, err := storage.NewMinioStore(ctx, cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
		if err != nil {
			return nil, nil, fmt.Errorf("init minio: %w", err)
		}
		return objects, nil, nil
	case "s3":
		objects, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:     cfg.StorageEndpoint,
			Region:       cfg.StorageRegion,
			AccessKey:    cfg.StorageAccessKey,
			SecretKey:    cfg.StorageSecretKey,
			Bucket:       cfg.StorageBucket,
			UsePathStyle: cfg.StoragePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3: %w", err)
		}
		return objects, nil, nil
	case "gcs":
		objects, err := storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:          cfg.StorageBucket,
			CredentialsFile: cfg.GCSCredentials,
			Endpoint:        cfg.StorageEndpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs: %w", err)
		}
		return objects, nil, nil
	case "local":
		baseURL := cfg.LocalStorageURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port
		}
		secret := cfg.JWTSecret
		if secret == "" {
			secret = cfg.InternalToken
		}
		files, err := storage.NewFileStore(cfg.LocalStorageDir, baseURL, secret)
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		return files, files, nil
	}
	return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
}

func openQueue(cfg config.FileConfig, client *redis.Client) (queue.TaskQueue, func(), error) {
	noop := func() {}
	switch cfg.QueueBackend {
	case "redis":
		return queue.NewRedisListQueue(client), noop, nil
	case "redis-stream":
		return queue.NewRedisStreamQueue(client, cfg.QueueStreamPrefix, cfg.QueueStreamGroup, 0), noop, nil
	case "rabbitmq":
		q, err := queue.NewRabbitQueue(cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	case "memory":
		slog.Warn("using in-memory queue; tasks are not visible to external workers")
		return queue.NewMemoryQueue(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

// newLimiter returns nil when limit is 0, which disables throttling for the action.
func newLimiter(client *redis.Client, action string, limit int, window time.Duration) (ratelimit.Limiter, error) {
	if limit <= 0 {
		return nil, nil
	}
	if client == nil {
		limiter, err := ratelimit.NewMemoryLimiter(limit, window)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", action, err)
		}
		return limiter, nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(client, "mindmate:ratelimit:"+action, limit, window)
	if err != nil {
		return nil, fmt.Errorf("init %s limiter: %w", action, err)
	}
	return limiter, nil
}
