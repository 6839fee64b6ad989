package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/faceguard/internal/api"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/dataservice"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/metrics"
	"github.com/technosupport/faceguard/internal/middleware"
	"github.com/technosupport/faceguard/internal/ratelimit"
	"github.com/technosupport/faceguard/internal/recognition"
	"github.com/technosupport/faceguard/internal/sighting"
	"github.com/technosupport/faceguard/internal/stream"
	"github.com/technosupport/faceguard/internal/tokens"
	"github.com/technosupport/faceguard/internal/vector"
)

const (
	shutdownGrace   = 10 * time.Second
	serviceTokenTTL = 24 * time.Hour
	embeddingSync   = 15 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbound service credential for the data service and the notifier.
	var serviceToken string
	tokenMgr := tokens.NewManager(cfg.ServiceTokenKey)
	if cfg.ServiceTokenKey != "" {
		serviceToken, err = tokenMgr.GenerateServiceToken("stream-service", serviceTokenTTL)
		if err != nil {
			log.Fatalf("Service token: %v", err)
		}
	}

	dsClient := dataservice.NewClient(cfg.CoreDataServiceURL, dataservice.WithToken(serviceToken))

	// Recognition path: engine client fronted by the local embedding index.
	engine := recognition.NewClient(recognition.ClientConfig{
		BaseURL:       cfg.FaceRecognitionURL,
		Timeout:       cfg.IntegrationTimeout,
		RetryAttempts: cfg.IntegrationRetryAttempts,
	})
	caches := vector.NewCaches()
	matcher := recognition.NewMatcher(engine, caches, dsClient)
	matcher.StartRefresh(ctx, embeddingSync)

	// Event bus.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), DB: cfg.RedisDB})
	var bus *events.Bus
	if cfg.Features.EventPublishing {
		bus = events.NewBus(rdb, cfg.EventChannel,
			events.WithPersistence(cfg.EventBatchSize, events.DefaultHistoryTTL))
	}

	var mirror *events.NATSMirror
	if cfg.Features.NATSMirror && cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("[WARN] NATS mirror disabled: %v", err)
		} else {
			defer nc.Close()
			mirror = events.NewNATSMirror(nc, "faceguard.recognition", 3)
		}
	}

	// Capture pipeline.
	evaluator := sighting.NewRemoteEvaluator(cfg.NotifierServiceURL, serviceToken)
	queue := sighting.NewQueue(dsClient, evaluator)
	queue.Start()

	mgr := stream.NewManager(stream.ManagerDeps{
		Config:     cfg,
		Recognizer: matcher,
		Capturer:   queue,
		Bus:        busOrNil(bus),
		Mirror:     mirror,
	})
	if err := mgr.Bootstrap(ctx); err != nil {
		log.Fatalf("Camera bootstrap: %v", err)
	}

	collector := metrics.NewCollector(metrics.Sources{
		Streams:   mgr,
		Queue:     queue,
		Caches:    caches,
		Bus:       bus,
		PerCamera: cfg.Features.Analytics,
	})
	go collector.Start(ctx)

	// HTTP surface.
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS)

	limiter := ratelimit.NewLimiter(rdb, "stream-rl")
	rl := middleware.NewRateLimitMiddleware(limiter, tokenMgr, middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 100, Window: time.Minute},
	})
	r.Use(rl.GlobalLimiter)

	r.Handle("/metrics", collector.Handler())
	api.NewStreamHandler(mgr, queue, cfg).Register(r)

	srv := &http.Server{
		Addr:    cfg.ServiceHost + ":" + strconv.Itoa(cfg.ServicePort),
		Handler: r,
	}
	go func() {
		log.Printf("Stream service %s listening on %s", stream.ServiceVersion, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	mgr.Shutdown(shutdownGrace)
	queue.Shutdown(shutdownGrace)
	if bus != nil {
		bus.Close(shutdownCtx)
	}
}

// busOrNil keeps the manager's EventPublisher a typed nil-safe interface:
// a nil *events.Bus must become a nil interface, not a non-nil wrapper.
func busOrNil(b *events.Bus) stream.EventPublisher {
	if b == nil {
		return nil
	}
	return b
}
