package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/handler"
	"duty-tracker/internal/platform"
	"duty-tracker/internal/repository"
	"duty-tracker/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openStore opens the database with a bounded retry so a transiently
// unreachable store at boot does not kill the service immediately.
func openStore(cfg *config.Config) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for attempt := 1; attempt <= cfg.StoreBootRetries; attempt++ {
		db, err = gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err == nil {
			return db, nil
		}
		logrus.WithError(err).Warnf("Store not reachable (attempt %d/%d), retrying in %v",
			attempt, cfg.StoreBootRetries, cfg.StoreBootInterval)
		time.Sleep(cfg.StoreBootInterval)
	}
	return nil, err
}

func main() {
	logrus.Info("Initializing config...")
	cfg := config.Get()

	roles, err := config.LoadRoles(cfg.RolesFile)
	if err != nil {
		logrus.Fatal("Failed to load roles config:", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		logrus.Fatal("Failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.Fatal("Failed to get database instance:", err)
	}

	if _, err = sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logrus.Infof("Warning: Failed to enable foreign keys: %v", err)
	}

	shiftRepo, err := repository.NewGormShiftRepository(db)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create shift repository")
	}

	quotaRepo, err := repository.NewGormQuotaRepository(db)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create quota repository")
	}

	var roleProvider service.RoleProvider
	var eventProvider service.HostedEventProvider
	var notifier service.Notifier
	var publisher service.ReportPublisher
	if cfg.PlatformURL != "" {
		client := platform.NewClient(cfg.PlatformURL)
		roleProvider, eventProvider, notifier, publisher = client, client, client, client
		logrus.Infof("Platform service at %s", cfg.PlatformURL)
	} else {
		noop := platform.NewNoop()
		roleProvider, eventProvider, notifier, publisher = noop, noop, noop, noop
		logrus.Info("No platform service configured, running standalone")
	}

	lifecycleService := service.NewLifecycleService(shiftRepo, roles, cfg.Location)
	quotaEngine := service.NewQuotaEngine(shiftRepo, quotaRepo, roles, cfg, roleProvider, eventProvider)
	auditLog := service.NewAuditLog(shiftRepo, notifier, cfg.AuditFlushDelay)
	adminService := service.NewAdminService(shiftRepo, auditLog)
	reportService := service.NewReportService(shiftRepo, quotaRepo, quotaEngine)
	archivalService := service.NewArchivalService(shiftRepo, reportService, publisher, cfg)
	watchdogService := service.NewWatchdogService(shiftRepo, lifecycleService, cfg)

	// Shifts left open by a crash or redeploy are closed against the
	// restart week before anything else runs.
	if recovered, err := lifecycleService.RecoverOpenShifts(); err != nil {
		logrus.WithError(err).Error("Startup recovery failed")
	} else if recovered > 0 {
		logrus.Infof("Startup recovery closed %d shifts", recovered)
	}

	archivalService.Start()
	watchdogService.Start()

	httpHandler := handler.NewHandler(&handler.Deps{
		Lifecycle: lifecycleService,
		Quota:     quotaEngine,
		Admin:     adminService,
		Archival:  archivalService,
		Watchdog:  watchdogService,
		Reports:   reportService,
		Quotas:    quotaRepo,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.NewRouter(httpHandler),
	}

	go func() {
		logrus.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("HTTP server failed:", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	logrus.Info("Service started. Press Ctrl+C to stop.")
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Infof("Error shutting down HTTP server: %v", err)
	}

	watchdogService.Stop()
	archivalService.Stop()
	auditLog.Stop()

	if err := sqlDB.Close(); err != nil {
		logrus.Infof("Error closing database: %v", err)
	}

	logrus.Info("Service stopped gracefully")
}
