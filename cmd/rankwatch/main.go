// Entry point for the rankwatch HTTP service: config, logging, sqlite run
// log, workbook store, chi router and the optional background scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"rankwatch/dbopen"
	"rankwatch/tracker"
	"rankwatch/xlsx"
)

func main() {
	cfgPath := "rankwatch.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := tracker.LoadConfig(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run log.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("run log db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := tracker.ApplySchema(db); err != nil {
		slog.Error("run log schema", "error", err)
		os.Exit(1)
	}

	// Workbook store.
	store, err := xlsx.Open(cfg.WorkbookPath)
	if err != nil {
		slog.Error("workbook", "path", cfg.WorkbookPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	impressionCharts := xlsx.NewChartRenderer(store, tracker.TableImpressions, 6, logger)
	volumeCharts := xlsx.NewVolumeChartRenderer(store, tracker.TableVolume, 20, logger)

	svc, err := tracker.New(cfg, store, logger,
		tracker.WithRunLog(db),
		tracker.WithMetrics(tracker.NewMetrics()),
		tracker.WithChartRenderer(impressionCharts),
		tracker.WithChartRenderer(volumeCharts),
	)
	if err != nil {
		slog.Error("tracker service", "error", err)
		os.Exit(1)
	}

	if cfg.Schedule.Enabled {
		go tracker.NewScheduler(svc, cfg.ScheduleInterval(), logger).Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           tracker.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // runs block the request
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
