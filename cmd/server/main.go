package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/logger"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/persistence"
	"github.com/nicktill/tinyfocus/pkg/pipeline"
	"github.com/nicktill/tinyfocus/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log := logger.New()
	log.Info("Starting TinyFocus server")

	cfg, err := server.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	log.WithFields(logrus.Fields{
		"data_dir":         cfg.DataDir,
		"store":            cfg.Store,
		"interval_minutes": cfg.Options.IntervalMinutes,
		"emergency_cap":    cfg.Options.EmergencyRawCap,
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := server.InitializeStorage(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize snapshot store")
	}
	defer store.Close()

	resultStore, err := server.InitializeResults(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize result store")
	}
	defer resultStore.Close()

	guardOpts := persistence.DefaultOptions()
	guardOpts.Namespace = cfg.Namespace
	guard := persistence.New(store, resultStore, clock.Real{}, log, guardOpts)

	p, err := pipeline.New(cfg.Options, pipeline.Deps{
		Analyzer: server.InitializeAnalyzer(cfg, log),
		Guard:    guard,
		Logger:   log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create pipeline")
	}

	if ids, err := guard.Recoverable(ctx); err == nil && len(ids) > 0 {
		log.WithField("sessions", ids).Info("Recoverable sessions found, resume with POST /v1/session/resume/{id}")
	}

	hub := server.NewNotificationHub(log)
	disk := monitor.NewDiskMonitor(cfg.DataDir, cfg.MaxStorageMB*1024*1024, clock.Real{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		server.ForwardNotifications(ctx, p.Notifications(), hub, log)
	}()
	go func() {
		defer wg.Done()
		server.RunStoreGC(ctx, store, config.BadgerGCInterval, log)
	}()

	router := mux.NewRouter()
	server.SetupRoutes(router, server.NewHandler(p, guard, resultStore, disk, log), hub, cfg.Port, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.WithField("addr", "http://localhost:"+cfg.Port).Info("Server ready to accept requests")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown")
	}

	// Flush what is buffered before the stores close
	if export, err := p.Stop(shutdownCtx); err == nil {
		log.WithFields(logrus.Fields{
			"session_id":   export.Session.ID,
			"chunks":       export.ChunkNumber,
			"undispatched": len(export.Undispatched),
		}).Info("Active session stopped")
	} else if !errors.Is(err, pipeline.ErrNoActiveSession) {
		log.WithError(err).Warn("Failed to stop active session")
	}
	if err := p.Wait(shutdownCtx); err != nil {
		log.WithError(err).Warn("Analysis calls still in flight at exit")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("Background tasks stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Some background tasks did not stop in time")
	}

	log.Info("TinyFocus server exited")
}
