package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/api"
	"github.com/technosupport/faceguard/internal/config"
	"github.com/technosupport/faceguard/internal/data"
	"github.com/technosupport/faceguard/internal/dataservice"
	"github.com/technosupport/faceguard/internal/delivery"
	"github.com/technosupport/faceguard/internal/events"
	"github.com/technosupport/faceguard/internal/metrics"
	"github.com/technosupport/faceguard/internal/middleware"
	"github.com/technosupport/faceguard/internal/ratelimit"
	"github.com/technosupport/faceguard/internal/tokens"
	"github.com/technosupport/faceguard/internal/ws"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("DB open: %v", err)
	}
	defer db.Close()
	store := data.NewStore(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), DB: cfg.RedisDB})
	bus := events.NewBus(rdb, cfg.EventChannel,
		events.WithPersistence(cfg.EventBatchSize, events.DefaultHistoryTTL))

	tokenMgr := tokens.NewManager(cfg.ServiceTokenKey)
	var serviceToken string
	if cfg.ServiceTokenKey != "" {
		serviceToken, err = tokenMgr.GenerateServiceToken("notifier", 24*time.Hour)
		if err != nil {
			log.Fatalf("Service token: %v", err)
		}
	}
	dsClient := dataservice.NewClient(cfg.CoreDataServiceURL, dataservice.WithToken(serviceToken))

	hub := ws.NewHub()

	engine := delivery.NewEngine(store, map[delivery.ChannelType]delivery.Sender{
		delivery.TypeEmail:     &delivery.EmailSender{},
		delivery.TypeSMS:       &delivery.SMSSender{},
		delivery.TypeWebhook:   &delivery.WebhookSender{},
		delivery.TypeWebSocket: &delivery.WebSocketSender{Hub: hub},
	})

	evaluator := alerts.NewEvaluator(alerts.Deps{
		Store:      store,
		Priority:   dsClient,
		Contacts:   dsClient,
		Attributes: dsClient,
		Channels:   store,
		Dispatcher: engine,
		Broadcast:  hub,
		Events:     bus,
	})
	evaluator.Start()

	if cfg.AlertConfigPath != "" {
		if seed, err := config.LoadAlertSeed(cfg.AlertConfigPath); err != nil {
			log.Printf("[WARN] Alert seed: %v", err)
		} else {
			applySeed(ctx, store.Models, seed)
		}
		config.WatchAlertSeed(ctx, cfg.AlertConfigPath, func(seed *config.AlertSeedFile) {
			applySeed(ctx, store.Models, seed)
		})
	}

	collector := metrics.NewCollector(metrics.Sources{
		Bus:        bus,
		Evaluator:  evaluator,
		Deliveries: engine,
	})
	go collector.Start(ctx)

	// HTTP surface.
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS)

	limiter := ratelimit.NewLimiter(rdb, "notifier-rl")
	rl := middleware.NewRateLimitMiddleware(limiter, tokenMgr, middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 100, Window: time.Minute},
		Endpoints: map[string]ratelimit.LimitConfig{
			"/delivery/send": {Rate: 10, Window: time.Minute},
		},
	})
	r.Use(rl.GlobalLimiter)

	r.Handle("/metrics", collector.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	handler := &api.NotifierHandler{
		Models:        store.Models,
		Evaluator:     evaluator,
		Engine:        engine,
		WebhookSecret: cfg.WebhookSecret,
	}
	if cfg.ServiceTokenKey != "" {
		handler.ServiceAuth = middleware.NewServiceAuth(tokenMgr).Middleware
	}
	handler.Register(r)
	(&api.WSHandler{Hub: hub, Evaluator: evaluator}).Register(r)

	srv := &http.Server{
		Addr:    cfg.ServiceHost + ":" + strconv.Itoa(cfg.ServicePort),
		Handler: r,
	}
	go func() {
		log.Printf("Notifier listening on %s", srv.Addr)
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

	evaluator.Stop()
	bus.Close(shutdownCtx)
}

// applySeed inserts rules and channels from the seed file that do not exist
// yet, matching by name. The database stays the store of record; the seed
// never updates or deletes.
func applySeed(ctx context.Context, models data.Models, seed *config.AlertSeedFile) {
	existing, err := models.Channels.List(ctx)
	if err != nil {
		log.Printf("[WARN] Alert seed: listing channels: %v", err)
		return
	}
	channelIDs := make(map[string]uuid.UUID, len(existing))
	for _, ch := range existing {
		channelIDs[ch.Name] = ch.ID
	}

	for _, cs := range seed.Channels {
		if _, ok := channelIDs[cs.Name]; ok {
			continue
		}
		ch, err := seedChannel(cs)
		if err != nil {
			log.Printf("[WARN] Alert seed: channel %q: %v", cs.Name, err)
			continue
		}
		if err := models.Channels.Create(ctx, ch); err != nil {
			log.Printf("[WARN] Alert seed: creating channel %q: %v", cs.Name, err)
			continue
		}
		channelIDs[ch.Name] = ch.ID
		log.Printf("Seeded channel %q (%s)", ch.Name, ch.Type)
	}

	rules, err := models.Rules.List(ctx)
	if err != nil {
		log.Printf("[WARN] Alert seed: listing rules: %v", err)
		return
	}
	ruleNames := make(map[string]bool, len(rules))
	for _, r := range rules {
		ruleNames[r.Name] = true
	}

	for _, rs := range seed.Rules {
		if ruleNames[rs.Name] {
			continue
		}
		rule := seedRule(rs, channelIDs)
		if err := models.Rules.Create(ctx, rule); err != nil {
			log.Printf("[WARN] Alert seed: creating rule %q: %v", rs.Name, err)
			continue
		}
		ruleNames[rule.Name] = true
		log.Printf("Seeded rule %q", rule.Name)
	}
}

func seedChannel(cs config.ChannelSeed) (*delivery.Channel, error) {
	ch := &delivery.Channel{
		Name:               cs.Name,
		Type:               delivery.ChannelType(cs.Type),
		RateLimitPerMinute: cs.RateLimitPerMinute,
		RetryAttempts:      cs.RetryAttempts,
		TimeoutSeconds:     cs.TimeoutSeconds,
		IsActive:           true,
	}
	s := cs.Settings
	switch ch.Type {
	case delivery.TypeEmail:
		port, _ := strconv.Atoi(s["port"])
		ch.Email = &delivery.EmailConfig{
			Host:     s["host"],
			Port:     port,
			UseTLS:   s["use_tls"] == "true",
			Username: s["username"],
			Password: s["password"],
			From:     s["from"],
			To:       s["to"],
		}
	case delivery.TypeSMS:
		ch.SMS = &delivery.SMSConfig{
			AccountSID: s["account_sid"],
			AuthToken:  s["auth_token"],
			From:       s["from"],
			To:         s["to"],
			APIBase:    s["api_base"],
		}
	case delivery.TypeWebhook:
		ch.Webhook = &delivery.WebhookConfig{
			URL:    s["url"],
			Secret: s["secret"],
		}
	case delivery.TypeWebSocket:
		room := s["room"]
		if room == "" {
			room = "alerts"
		}
		ch.WebSocket = &delivery.WebSocketConfig{Room: room}
	default:
		return nil, errUnknownChannelType(cs.Type)
	}
	return ch, nil
}

type errUnknownChannelType string

func (e errUnknownChannelType) Error() string {
	return "unknown channel type " + strconv.Quote(string(e))
}

func seedRule(rs config.RuleSeed, channelIDs map[string]uuid.UUID) *alerts.AlertRule {
	rule := &alerts.AlertRule{
		Name:                 rs.Name,
		Priority:             alerts.Priority(rs.Priority),
		CooldownMinutes:      rs.CooldownMinutes,
		NotificationTemplate: rs.Template,
		IsActive:             true,
		TriggerConditions: alerts.TriggerConditions{
			PersonIDs:       rs.PersonIDs,
			CameraIDs:       rs.CameraIDs,
			ExcludedPersons: rs.ExcludedPersons,
			AnyPerson:       rs.AnyPerson,
		},
	}
	if rule.Priority == "" {
		rule.Priority = alerts.PriorityMedium
	}
	if rs.ConfidenceMin > 0 {
		v := rs.ConfidenceMin
		rule.TriggerConditions.ConfidenceMin = &v
	}
	if rs.ConfidenceMax > 0 {
		v := rs.ConfidenceMax
		rule.TriggerConditions.ConfidenceMax = &v
	}
	if rs.EscalationMinutes > 0 {
		v := rs.EscalationMinutes
		rule.EscalationMinutes = &v
	}
	if rs.AutoResolveMinutes > 0 {
		v := rs.AutoResolveMinutes
		rule.AutoResolveMinutes = &v
	}
	for _, name := range rs.Channels {
		id, ok := channelIDs[name]
		if !ok {
			log.Printf("[WARN] Alert seed: rule %q references unknown channel %q", rs.Name, name)
			continue
		}
		rule.NotificationChannelIDs = append(rule.NotificationChannelIDs, id)
	}
	return rule
}
