package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mcadmin/mc-admin/internal/middleware"
)

// Handlers bundles everything the router mounts
type Handlers struct {
	Auth      *AuthHandler
	Instances *InstanceHandler
	Console   *ConsoleHandler
	Players   *PlayerHandler
	Cron      *CronHandler
	DNS       *DNSHandler
	Snapshots *SnapshotHandler
	Config    *ConfigHandler
	Health    *HealthHandler

	Verifier middleware.TokenVerifier
	Metrics  prometheus.Gatherer
	Debug    bool
}

// SetupRouter wires the gin engine. All state comes in through the
// Handlers struct; nothing global.
func SetupRouter(h Handlers) *gin.Engine {
	if !h.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestLogger())

	router.GET("/health", h.Health.Health)
	router.HEAD("/health", h.Health.Health)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{})))
	}

	// One login attempt per second per IP, small burst
	loginLimiter := middleware.NewRateLimiter(rate.Limit(1), 5)
	router.POST("/api/auth/login", loginLimiter.Handler(), h.Auth.Login)

	authed := router.Group("/api", middleware.Auth(h.Verifier))

	instances := authed.Group("/instances")
	{
		instances.GET("", h.Instances.List)
		instances.GET("/:id", h.Instances.Get)
		instances.POST("/:id", h.Instances.Create)
		instances.PUT("/:id/compose", h.Instances.UpdateCompose)
		instances.DELETE("/:id", h.Instances.Remove)

		instances.POST("/:id/up", h.Instances.Up)
		instances.POST("/:id/down", h.Instances.Down)
		instances.POST("/:id/start", h.Instances.Start)
		instances.POST("/:id/stop", h.Instances.Stop)
		instances.POST("/:id/restart", h.Instances.Restart)
		instances.POST("/:id/rebuild", h.Instances.Rebuild)

		instances.POST("/:id/command", h.Instances.Command)
		instances.GET("/:id/players", h.Instances.Players)
		instances.GET("/:id/stats", h.Instances.Stats)
		instances.GET("/:id/disk", h.Instances.DiskSpace)

		instances.GET("/:id/console", h.Console.Stream)
	}

	players := authed.Group("/players")
	{
		players.GET("/online", h.Players.Online)
		players.GET("/:uuid", h.Players.Profile)
		players.GET("/:uuid/avatar", h.Players.Avatar)
		players.GET("/:uuid/skin", h.Players.Skin)
	}

	cron := authed.Group("/cron")
	{
		cron.GET("/identifiers", h.Cron.Identifiers)
		cron.GET("/restart-slot", h.Cron.RestartSlot)

		cron.POST("/jobs", h.Cron.CreateJob)
		cron.GET("/jobs", h.Cron.ListJobs)
		cron.GET("/jobs/:id", h.Cron.GetJob)
		cron.PUT("/jobs/:id", h.Cron.UpdateJob)
		cron.POST("/jobs/:id/pause", h.Cron.PauseJob)
		cron.POST("/jobs/:id/resume", h.Cron.ResumeJob)
		cron.POST("/jobs/:id/cancel", h.Cron.CancelJob)
		cron.GET("/jobs/:id/executions", h.Cron.Executions)
	}

	dns := authed.Group("/dns")
	{
		dns.GET("/diff", h.DNS.Diff)
		dns.POST("/update", h.DNS.Update)
	}

	snapshots := authed.Group("/snapshots")
	{
		snapshots.GET("", h.Snapshots.List)
		snapshots.POST("", h.Snapshots.Create)
		snapshots.POST("/forget", h.Snapshots.Forget)
		snapshots.POST("/:id/restore", h.Snapshots.Restore)
		snapshots.DELETE("/:id", h.Snapshots.ForgetSnapshot)
	}

	config := authed.Group("/config")
	{
		config.GET("", h.Config.List)
		config.GET("/:module", h.Config.Get)
		config.PUT("/:module", h.Config.Set)
	}

	return router
}
