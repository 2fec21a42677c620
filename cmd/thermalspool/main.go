package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/api"
	"github.com/orrn/thermalspool/internal/archive"
	"github.com/orrn/thermalspool/internal/config"
	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/escpos"
	"github.com/orrn/thermalspool/internal/logger"
	"github.com/orrn/thermalspool/internal/raster"
	"github.com/orrn/thermalspool/internal/transport"
	"github.com/orrn/thermalspool/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting thermalspool",
		zap.String("transport", cfg.Printer.Transport),
		zap.Int("dot_width", cfg.Printer.DotWidth),
		zap.Duration("queue_interval", cfg.Queue.Interval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rasterOpts := raster.Options{
		Threshold:     cfg.Raster.Threshold,
		ContrastGamma: cfg.Raster.ContrastGamma,
		Algorithm:     cfg.Raster.Algorithm,
		MaxPixels:     cfg.Raster.MaxPixels,
	}

	composerOpts := core.ComposerOptions{
		DotWidth:      cfg.Printer.DotWidth,
		LogoOffset:    cfg.Printer.LogoOffset,
		FeedLines:     cfg.Printer.FeedLines,
		RasterTimeout: cfg.Queue.RasterTimeout,
		Raster:        rasterOpts,
	}
	if cp, ok, err := escpos.LookupCodePage(cfg.Printer.CodePage); err != nil {
		logger.Fatal("Invalid code page", zap.Error(err))
	} else if ok {
		composerOpts.CodePage = &cp
	}

	logoWidth := cfg.Printer.LogoWidth
	if logoWidth == 0 {
		logoWidth = cfg.Printer.DotWidth
	}
	logo, err := core.LoadLogo(ctx, cfg.Printer.LogoPath, logoWidth, rasterOpts)
	if err != nil {
		logger.Warn("Printing without logo", zap.String("path", cfg.Printer.LogoPath), zap.Error(err))
		logo = nil
	}

	var history core.HistoryStore
	var deps api.Deps
	var archiver *archive.Archiver
	if cfg.Database.Path != "" {
		if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
			logger.Fatal("Failed to setup database", zap.Error(err))
		}
		defer db.Close()

		history = db.History
		deps.History = db.History
		deps.Counters = db.Counters

		if cfg.Database.RetentionDays > 0 {
			archiver, err = archive.NewArchiver(db.GetDB(), archive.ArchiveConfig{
				ArchivePath: cfg.Database.ArchivePath,
				ArchiveDays: cfg.Database.RetentionDays,
			})
			if err != nil {
				logger.Fatal("Failed to setup history archiver", zap.Error(err))
			}
			archiver.Start(ctx)
			deps.Archiver = archiver
			deps.ArchiveLog = db.Archive
		}
	}

	var webhooks core.WebhookSender
	var sender *webhook.WebhookSender
	if len(cfg.Webhook.Endpoints) > 0 {
		sender = webhook.NewWebhookSender(webhookConfig(cfg.Webhook))
		sender.Start()
		webhooks = sender
		deps.Webhooks = sender
		logger.Info("Webhook delivery enabled", zap.Int("endpoints", len(cfg.Webhook.Endpoints)))
	}

	printer := core.NewPrinter(core.NewComposer(composerOpts, logo), newTransport(cfg.Printer), core.PrinterOptions{
		WriteTimeout: cfg.Queue.WriteTimeout,
		History:      history,
		Webhooks:     webhooks,
	})

	if cfg.Printer.SelfTest {
		if err := printer.PrintNow(ctx, core.TestJob("self-test")); err != nil {
			// Not fatal: the transport is retried lazily on the next job.
			logger.Error("Startup self-test failed", zap.Error(err))
		} else {
			logger.Info("Startup self-test printed")
		}
	}

	queue := core.NewQueue(printer, cfg.Queue.Interval)
	queue.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	deps.Queue = queue
	deps.Status = printer.Status()
	deps.MaxUploadBytes = cfg.Server.MaxUploadBytes
	deps.Config = cfg
	router, err := api.NewRouter(deps)
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	logger.Info("Server started", zap.String("address", addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Web server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	}

	queue.Stop()
	if pending := queue.Len(); pending > 0 {
		logger.Warn("Discarding unprinted jobs", zap.Int("pending", pending))
	}
	if archiver != nil {
		archiver.Stop()
	}
	if sender != nil {
		sender.Stop()
	}
	if err := printer.Close(); err != nil {
		logger.Warn("Failed to close printer transport", zap.Error(err))
	}
	cancel()

	logger.Info("Shutdown complete")
}

func newTransport(p config.PrinterConfig) transport.Transport {
	switch p.Transport {
	case config.TransportNetwork:
		return transport.NewNetwork(transport.NetworkOptions{
			Address:        p.Network.HostPort(),
			ConnectTimeout: p.Network.ConnectTimeout,
			WriteTimeout:   p.Network.WriteTimeout,
			KeepAlive:      p.Network.KeepAlive,
		})
	case config.TransportSpooler:
		return transport.NewSpooler(p.Model)
	default:
		return transport.NewUSB(transport.USBOptions{
			ChunkSize:   p.USB.ChunkSize,
			SettleDelay: p.USB.SettleDelay,
			VendorIDs:   p.USB.VendorIDs,
		})
	}
}

func webhookConfig(w config.WebhookConfig) webhook.WebhookConfig {
	endpoints := make([]webhook.Endpoint, len(w.Endpoints))
	for i, ep := range w.Endpoints {
		endpoints[i] = webhook.Endpoint{URL: ep.URL, Secret: ep.Secret, Events: ep.Events}
	}
	return webhook.WebhookConfig{
		Endpoints:   endpoints,
		RetryCount:  w.RetryCount,
		RetryDelay:  w.RetryDelay,
		Timeout:     w.Timeout,
		WorkerCount: w.WorkerCount,
		QueueSize:   w.QueueSize,
	}
}
