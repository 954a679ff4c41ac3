package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/logging"
	"relay/internal/looprunner"
	"relay/internal/scheduler"
	"relay/internal/secrets"
	"relay/pkg/admission"
	"relay/pkg/assembler"
	"relay/pkg/channel"
	_ "relay/pkg/channel/telegram"
	_ "relay/pkg/channel/whatsapp"
	"relay/pkg/classifier"
	"relay/pkg/config"
	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/generator"
	"relay/pkg/hts"
	"relay/pkg/kv"
	"relay/pkg/llmclient"
	"relay/pkg/mem"
	"relay/pkg/monitor"
	"relay/pkg/pause"
	"relay/pkg/pipeline"
	"relay/pkg/ratelimit"
	"relay/pkg/relationship"
	"relay/pkg/style"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secrets.Load()

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := runGateway(ctx, reloadCh)
		if err != nil {
			slog.Error("gateway crashed or failed to start", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("configuration change detected while waiting, retrying immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
			slog.Info("configuration reloaded, restarting")
		}
	}
}

// runGateway runs a single lifecycle of the gateway: load config,
// wire every component, connect channels, and block until shutdown
// or a config change triggers a clean restart.
func runGateway(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info")
		return err
	}
	sysCfg := config.LoadSystemConfig("system.json")
	logging.Setup(sysCfg.LogLevel)

	m := monitor.SetupEnvironment()

	kvStore, err := kv.NewRedisStore(ctx, secrets.GetOr("REDIS_ADDR", "localhost:6379"), secrets.Get("REDIS_PASSWORD"), 0)
	if err != nil {
		return err
	}
	defer kvStore.Close()

	memStore, err := mem.NewPostgresStore(ctx, secrets.Get("POSTGRES_DSN"))
	if err != nil {
		return err
	}
	defer memStore.Close()

	bus := events.NewInMemoryBus()
	defer bus.Close()
	if err := m.Start(bus); err != nil {
		slog.Warn("monitor failed to start", "error", err)
	}

	if err := seedPersonas(ctx, memStore, cfg); err != nil {
		slog.Warn("persona seeding failed", "error", err)
	}

	llmClient, err := llmclient.FromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return err
	}

	gate := admission.New(memStore, bus, time.Duration(sysCfg.DeniedContactTTLHours)*time.Hour, sysCfg.AutoApproveOnHistory)
	pauseCtl := pause.New(kvStore, bus)
	limiter := ratelimit.New(kvStore, bus, pauseCtl, sysCfg.RateLimitMaxMessages, time.Duration(sysCfg.RateLimitWindowSec)*time.Second, sysCfg.RateLimitAutoPause)

	var sleepWindow *pause.SleepWindow
	if sysCfg.SleepHoursEnabled {
		w, err := pause.ParseSleepWindow(sysCfg.SleepHoursStart, sysCfg.SleepHoursEnd)
		if err != nil {
			return err
		}
		sleepWindow = &w
	}

	cls := classifier.New(llmClient)

	relAccum := relationship.NewAccumulator(kvStore, memStore,
		sysCfg.RelationshipBatchSize, time.Duration(sysCfg.RelationshipBatchWaitSec)*time.Second,
		sysCfg.RelationshipDecayPerDay, sysCfg.RelationshipMinSignals, sysCfg.RelationshipMinDelta)

	defaultPersona := domain.Persona{Relationship: domain.RelationshipUnknown, SystemPrompt: cfg.DefaultSystemPrompt}
	asm := assembler.New(memStore, kvStore, sysCfg.HistoryMaxMessages,
		time.Duration(sysCfg.HistoryTTLDays)*24*time.Hour, time.Duration(sysCfg.StyleCacheTTLSec)*time.Second, defaultPersona)

	gen := generator.New(llmClient, kvStore)

	dispatcher := hts.New(kvStore, bus,
		time.Duration(sysCfg.HTSBaseDelayMs)*time.Millisecond,
		time.Duration(sysCfg.HTSMsPerChar)*time.Millisecond,
		time.Duration(sysCfg.HTSCognitivePauseMs)*time.Millisecond,
		time.Duration(sysCfg.HTSMaxDelayMs)*time.Millisecond,
		30*24*time.Hour)

	styleAccum := style.NewAccumulator(memStore, sysCfg.StyleFlushMinPendingChanges, sysCfg.StyleFlushMinSamples)

	manager := channel.NewManager()

	coordinator := pipeline.New(ctx, memStore, gate, limiter, pauseCtl, sleepWindow, cls, relAccum, asm, gen, dispatcher, styleAccum, bus, manager,
		sysCfg.MaxInFlightMessages, sysCfg.AdmissionAutoReplyUnknown, sysCfg.AdmissionAutoReplyText)

	if sysCfg.MetricsAddr != "" {
		startMetricsServer(ctx, sysCfg.MetricsAddr)
	}

	accumCtx, cancelAccum := context.WithCancel(ctx)
	defer cancelAccum()
	go looprunner.Run(accumCtx, "relationship-accumulator", 2*time.Second, relAccum.Run)

	sched := scheduler.New(accumCtx)
	if err := sched.AddFunc(sysCfg.DrainDeferredCron, "drain-deferred", func(jobCtx context.Context) {
		drainDeferredOnce(jobCtx, pauseCtl, coordinator)
	}); err != nil {
		slog.Error("failed to schedule deferred-message drain job", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	for id, raw := range cfg.Channels {
		factory, ok := channel.Get(domain.ChannelID(id))
		if !ok {
			slog.Warn("no adapter registered for configured channel", "channel", id)
			continue
		}
		adapter, err := factory(raw)
		if err != nil {
			slog.Error("failed to construct channel adapter", "channel", id, "error", err)
			continue
		}
		if err := adapter.Connect(ctx, coordinator.Submit); err != nil {
			slog.Error("failed to connect channel adapter", "channel", id, "error", err)
			continue
		}
		manager.Add(adapter)
		slog.Info("channel connected", "channel", id)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		_ = manager.DisconnectAll(context.Background())
		_ = m.Stop()
		return nil
	case <-reloadCh:
		slog.Info("config change detected, restarting")
		_ = manager.DisconnectAll(context.Background())
		_ = m.Stop()
		time.Sleep(time.Second)
		return nil
	}
}

// startMetricsServer serves the Prometheus collectors registered in
// pkg/metrics on addr until ctx is cancelled. A listen failure is
// logged, not fatal: metrics scraping is an operational nicety, not
// something worth taking the gateway down over.
func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// drainDeferredOnce resubmits messages deferred during sleep hours
// whose wake time has passed. Run on a schedule by the cron
// scheduler rather than a bespoke ticker loop.
func drainDeferredOnce(ctx context.Context, pauseCtl *pause.Controller, coordinator *pipeline.Coordinator) {
	due, err := pauseCtl.DrainDue(ctx, time.Now())
	if err != nil {
		slog.Warn("failed to drain deferred messages", "error", err)
		return
	}
	for _, msg := range due {
		coordinator.Submit(ctx, msg)
	}
}

// seedPersonas upserts config.json's persona overrides into durable
// storage so the assembler's GetPersona lookups resolve on first run,
// without requiring a separate admin step.
func seedPersonas(ctx context.Context, store mem.Store, cfg *config.Config) error {
	for relationship, raw := range cfg.Personas {
		var p domain.Persona
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &p); err != nil {
			slog.Warn("failed to parse persona", "relationship", relationship, "error", err)
			continue
		}
		p.Relationship = domain.RelationshipType(relationship)
		if p.ID == "" {
			p.ID = relationship
		}
		if len(p.ApplicableTo) == 0 {
			p.ApplicableTo = []domain.RelationshipType{p.Relationship}
		}
		if err := store.UpsertPersona(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
