package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcadmin/mc-admin/internal/api"
	"github.com/mcadmin/mc-admin/internal/auth"
	"github.com/mcadmin/mc-admin/internal/backup"
	"github.com/mcadmin/mc-admin/internal/console"
	"github.com/mcadmin/mc-admin/internal/cron"
	"github.com/mcadmin/mc-admin/internal/dns"
	"github.com/mcadmin/mc-admin/internal/docker"
	"github.com/mcadmin/mc-admin/internal/dynconfig"
	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/logmon"
	"github.com/mcadmin/mc-admin/internal/logparse"
	"github.com/mcadmin/mc-admin/internal/mojang"
	"github.com/mcadmin/mc-admin/internal/monitoring"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/internal/restic"
	"github.com/mcadmin/mc-admin/internal/supervisor"
	"github.com/mcadmin/mc-admin/internal/tracker"
	"github.com/mcadmin/mc-admin/pkg/config"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// routableInstances adapts the supervisor for the DNS reconciler: every
// instance that is at least running, with its compose game port.
type routableInstances struct {
	sup *supervisor.Supervisor
}

func (r *routableInstances) RoutableInstances(ctx context.Context) ([]dns.Instance, error) {
	ids, err := r.sup.List()
	if err != nil {
		return nil, err
	}

	var instances []dns.Instance
	for _, id := range ids {
		info, err := r.sup.Get(ctx, id)
		if err != nil {
			logger.Warn("skipping instance for DNS routing", map[string]interface{}{
				"instance": id,
				"error":    err.Error(),
			})
			continue
		}
		if !info.Status.AtLeast(supervisor.StatusRunning) || info.Properties == nil {
			continue
		}
		instances = append(instances, dns.Instance{
			Name:     id,
			GamePort: info.Properties.GamePort,
		})
	}
	return instances, nil
}

func main() {
	cfg := config.Load()

	appLogger := logger.NewLogger(logger.ParseLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	logger.SetDefault(appLogger)

	logger.Info("Starting application", map[string]interface{}{
		"app":   cfg.AppName,
		"debug": cfg.Debug,
		"port":  cfg.Port,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := repository.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", err, nil)
	}

	serverRepo := repository.NewServerRepository(db)
	playerRepo := repository.NewPlayerRepository(db)
	cronRepo := repository.NewCronRepository(db)

	// Event bus, with the optional InfluxDB archive sink
	dispatcher := events.NewDispatcher()
	if cfg.InfluxDBURL != "" && cfg.InfluxDBToken != "" {
		sink := events.NewInfluxSink(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket)
		defer sink.Close()
		dispatcher.SetSink(sink)
		logger.Info("Event archive enabled", map[string]interface{}{
			"influxdb_url": cfg.InfluxDBURL,
			"org":          cfg.InfluxDBOrg,
			"bucket":       cfg.InfluxDBBucket,
		})
	}

	// Docker engine and instance supervisor
	engine, err := docker.NewEngine()
	if err != nil {
		logger.Fatal("Failed to initialize Docker engine", err, nil)
	}
	defer engine.Close()

	sup := supervisor.NewSupervisor(engine, cfg.ServersRootPath, serverRepo)
	logger.Info("Supervisor initialized", map[string]interface{}{
		"servers_root": cfg.ServersRootPath,
	})

	// Log pipeline: tail files, fan lines out to the console hub and
	// through the pattern bank onto the event bus
	parser, parserModule, err := logparse.NewParserFromDB(db)
	if err != nil {
		logger.Fatal("Failed to initialize log parser", err, nil)
	}

	hub := console.NewHub()
	monitor := logmon.NewMonitor(func(instanceID, line string) {
		hub.Publish(instanceID, line)
		if event := parser.Parse(instanceID, line, time.Now()); event != nil {
			dispatcher.Dispatch(ctx, event)
		}
	})
	defer monitor.Close()
	go watchInstanceLogs(ctx, sup, monitor)

	// Player trackers
	profiles := mojang.NewClient()
	identities := tracker.NewIdentityManager(playerRepo, profiles, dispatcher)
	identities.Register()
	tracker.NewSessionTracker(playerRepo, serverRepo, identities, dispatcher).Register()
	tracker.NewChatTracker(playerRepo, serverRepo, identities, dispatcher).Register()
	tracker.NewSkinUpdater(playerRepo, profiles, dispatcher,
		time.Duration(cfg.SkinFetchDelayMillis)*time.Millisecond).Register()

	heartbeat := tracker.NewHeartbeat(playerRepo, dispatcher,
		time.Duration(cfg.HeartbeatIntervalSeconds)*time.Second,
		time.Duration(cfg.CrashThresholdMinutes)*time.Minute)
	if err := heartbeat.RecoverFromCrash(ctx); err != nil {
		logger.Error("Crash recovery failed", err, nil)
	}
	heartbeat.Start()
	defer heartbeat.Stop()

	reconciler := tracker.NewReconciler(playerRepo, sup, dispatcher,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)
	reconciler.Register()
	reconciler.Start(ctx)
	defer reconciler.Stop()
	logger.Info("Player trackers registered", nil)

	// Snapshots
	backupService := backup.NewService(restic.NewClient(restic.Config{
		Repository: cfg.ResticRepository,
		Password:   cfg.ResticPassword,
		Insecure:   cfg.ResticInsecurePassword,
	}), cfg.ServersRootPath)

	// Cron scheduler with the built-in backup and restart jobs
	registry := cron.NewRegistry()
	executor := cron.NewExecutor(cronRepo, registry)
	manager := cron.NewManager(cronRepo, registry, executor, cfg.Location())
	backup.NewJobs(backupService, sup).Register(registry)
	if err := manager.Recover(); err != nil {
		logger.Error("Cron recovery failed", err, nil)
	}
	manager.Start()
	defer manager.Stop()
	logger.Info("Cron scheduler started", map[string]interface{}{
		"timezone": cfg.Location().String(),
	})

	// DNS and route reconciler
	dnsModule, err := dynconfig.NewModule(db, dns.ModuleName, dns.DefaultConfig())
	if err != nil {
		logger.Fatal("Failed to initialize DNS config module", err, nil)
	}
	dnsReconciler := dns.NewReconciler(dnsModule, &routableInstances{sup: sup}, nil)

	// Prometheus metrics
	promRegistry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(promRegistry)
	exporter := monitoring.NewExporter(sup, metrics, 30*time.Second)
	exporter.Start()
	defer exporter.Stop()

	// HTTP surface
	authService := auth.NewService(cfg.JWTSecret, cfg.AdminUsername, cfg.AdminPasswordHash,
		time.Duration(cfg.JWTTTLHours)*time.Hour)

	router := api.SetupRouter(api.Handlers{
		Auth:      api.NewAuthHandler(authService),
		Instances: api.NewInstanceHandler(sup),
		Console:   api.NewConsoleHandler(console.NewBridge(hub, sup)),
		Players:   api.NewPlayerHandler(playerRepo),
		Cron:      api.NewCronHandler(manager, registry, cronRepo, cfg.RestartWindowStart),
		DNS:       api.NewDNSHandler(dnsReconciler),
		Snapshots: api.NewSnapshotHandler(backupService),
		Config: api.NewConfigHandler(map[string]api.ConfigModule{
			dns.ModuleName:      dnsModule,
			logparse.ModuleName: parserModule,
		}),
		Health:   api.NewHealthHandler(db),
		Verifier: authService,
		Metrics:  promRegistry,
		Debug:    cfg.Debug,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", map[string]interface{}{
			"address": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", err, nil)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", err, nil)
	}
	// Deferred stops run in reverse wiring order: exporter, cron,
	// trackers, log monitor, Docker engine.
}

// watchInstanceLogs keeps one log tail per known instance, picking up
// created and removed instances as the supervisor's view changes
func watchInstanceLogs(ctx context.Context, sup *supervisor.Supervisor, monitor *logmon.Monitor) {
	resync := func() {
		ids, err := sup.List()
		if err != nil {
			logger.Error("Failed to list instances for log watching", err, nil)
			return
		}
		known := make(map[string]bool, len(ids))
		for _, id := range ids {
			known[id] = true
			monitor.Watch(id, sup.LogPath(id))
		}
		for _, id := range monitor.WatchedIDs() {
			if !known[id] {
				monitor.Unwatch(id)
			}
		}
	}

	resync()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resync()
		}
	}
}
