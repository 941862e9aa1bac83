package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/smartcheck/internal/api"
	"example.com/smartcheck/internal/auth"
	"example.com/smartcheck/internal/cache"
	"example.com/smartcheck/internal/config"
	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/outbox"
	"example.com/smartcheck/internal/persistence/memory"
	"example.com/smartcheck/internal/persistence/postgres"
	"example.com/smartcheck/internal/signing"
	httptransport "example.com/smartcheck/internal/transport/http"
)

// store is what the services need from a repository backend.
type store interface {
	domain.TargetReader
	domain.CodeRepository
	domain.AttendanceRepository
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       store
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		mem := memory.NewRepository()
		seedDemo(mem)
		repo = mem
		log.Printf("using in-memory storage; events are not published")
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	default:
		log.Fatalf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.GeoSecretKey == "" {
		log.Printf("GEO_SECRET_KEY is empty; every attendance submission will be rejected")
	}

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.DisplayInvalidationURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.DisplayInvalidationURL, cfg.DisplayInvalidationToken, cfg.HTTPTimeout)
	}

	codes := domain.NewCodeService(repo, repo, invalidator)
	attendance := domain.NewAttendanceService(repo)
	pipeline := domain.NewAdmissionPipeline(
		repo,
		codes,
		domain.NewSignatureVerifier(signing.NewHMACSigner(cfg.GeoSecretKey)),
		attendance,
		domain.AdmissionConfig{
			ReplayTolerance:     cfg.GeoReplayTolerance,
			DefaultRadiusMeters: cfg.GeoDefaultRadiusMeters,
		},
	)

	handler := api.NewHandler(pipeline, codes, attendance)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Leeway: cfg.JWTLeeway})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(nil),
		httptransport.CORS("http://localhost:5173"),
		authMiddleware,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("attendance-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// seedDemo registers one event with a target whose windows cover today, so the
// in-memory mode is usable without an admin backend.
func seedDemo(repo *memory.Repository) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	noon := day.Add(12 * time.Hour)
	lat, lng := -6.200000, 106.816666

	event := repo.PutEvent(domain.Event{ID: "demo-event", Title: "Demo Event"})
	target := repo.PutTarget(domain.Target{
		ID:        "demo-target",
		EventID:   event.ID,
		Title:     "Demo Hall",
		Latitude:  &lat,
		Longitude: &lng,
		StartsAt:  day,
		EndsAt:    day.Add(24 * time.Hour),
		CheckIn:   domain.Window{Start: day, End: noon},
		CheckOut:  domain.Window{Start: noon, End: day.Add(24*time.Hour - time.Second)},
	})
	log.Printf("seeded demo target %s (event %s)", target.ID, event.ID)
}
