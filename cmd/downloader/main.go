// cmd/downloader/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"media-download-service/internal/repository/postgresql"
	"media-download-service/internal/service"
	httptransport "media-download-service/internal/transport/http"
	"media-download-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDSN := mustEnv("POSTGRES_DSN")
	redisAddr := mustEnv("REDIS_ADDR")
	httpAddr := envOr("HTTP_ADDR", ":8080")
	outputDir := envOr("DOWNLOAD_DIR", "downloads")
	workerCmd := strings.Fields(envOr("WORKER_CMD", "python3 scripts/download.py"))
	eventsChannel := envOr("REDIS_EVENTS_CHANNEL", "downloads:events")

	cfg := service.Config{
		MaxConcurrent: envIntOr("MAX_CONCURRENT_DOWNLOADS", 3),
		MaxRetries:    envIntOr("MAX_RETRIES", 3),
		BaseDelay:     time.Duration(envIntOr("RETRY_BASE_DELAY_MS", 2000)) * time.Millisecond,
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	repo := postgresql.NewDownloadRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("pg schema: %v", err)
	}

	// Redis backs the progress channel the UI subscribes to
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}
	publisher := service.NewRedisProgressPublisher(rdb, eventsChannel)

	bridge, err := worker.NewBridge(worker.Config{
		Command:       workerCmd,
		OutputDir:     outputDir,
		AuxConfigPath: os.Getenv("COOKIES_PATH"),
	})
	if err != nil {
		log.Fatalf("worker bridge: %v", err)
	}

	svc := service.NewDownloadService(repo, bridge, publisher, cfg)

	// Jobs left active by a previous run can never finish; fail them now.
	if n, err := svc.RecoverOrphans(ctx); err != nil {
		log.Fatalf("recover orphans: %v", err)
	} else if n > 0 {
		log.Printf("marked %d orphaned jobs as error", n)
	}

	h := httptransport.NewHandler(svc)
	srv := &http.Server{Addr: httpAddr, Handler: httptransport.Routes(h)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("downloader started: addr=%s output_dir=%s max_concurrent=%d max_retries=%d worker_cmd=%q",
		httpAddr, outputDir, cfg.MaxConcurrent, cfg.MaxRetries, strings.Join(workerCmd, " "))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http: %v", err)
	}
	log.Println("downloader stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
