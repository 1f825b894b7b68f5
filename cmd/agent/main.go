package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/framesight/framesight-agent/internal/api"
	"github.com/framesight/framesight-agent/internal/broker"
	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/config"
	"github.com/framesight/framesight-agent/internal/db"
	"github.com/framesight/framesight-agent/internal/extract"
	"github.com/framesight/framesight-agent/internal/fetch"
	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/logging"
	"github.com/framesight/framesight-agent/internal/playback"
	"github.com/framesight/framesight-agent/internal/search"
	"github.com/framesight/framesight-agent/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting framesight agent", "version", api.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())
	layout := jobs.NewLayout(cfg.DataDir())

	var queue broker.Broker
	if rawURL := cfg.BrokerURL(); rawURL != "" {
		etcdQueue, err := broker.NewEtcdBroker(rawURL, cfg.QueueSize(), logger)
		if err != nil {
			return fmt.Errorf("failed to connect broker: %w", err)
		}
		queue = etcdQueue
		logger.Info("using etcd broker", "url", rawURL)
	} else {
		queue = broker.NewChannelBroker(cfg.QueueSize())
	}
	defer queue.Close()

	service := jobs.NewService(repo, queue, layout, cfg.StaleAfter(), logger)

	sideCfg := capability.DefaultConfig(cfg.DataDir(), logger)
	sideCfg.PythonPath = cfg.SidecarPython()
	sideCfg.ModuleName = cfg.SidecarModule()
	sideCfg.DoctorTimeout = cfg.DoctorTimeout()
	sideCfg.DetectTimeout = cfg.DetectTimeout()
	sideCfg.TranscribeTimeout = cfg.TranscribeTimeout()
	sideCfg.EmbedTimeout = cfg.IndexTimeout()

	// A missing sidecar degrades the agent to extraction-only rather
	// than preventing startup.
	caps := &capability.Set{}
	var doctor *capability.CachedDoctor

	sidecar, err := capability.NewSidecarRunner(sideCfg)
	if err != nil {
		logger.Warn("sidecar unavailable, ml stages disabled", "error", err)
	} else {
		doctor = capability.NewCachedDoctor(sidecar, logger)

		probeCtx, probeCancel := context.WithTimeout(context.Background(), sideCfg.DoctorTimeout)
		probed, err := doctor.Refresh(probeCtx)
		probeCancel()
		if err != nil {
			logger.Warn("initial doctor probe failed, ml stages disabled", "error", err)
			probed = &capability.Capabilities{}
		} else {
			logger.Info("sidecar capabilities detected",
				"objects", probed.HasObjects,
				"speech", probed.HasSpeech,
				"embeddings", probed.HasEmbeddings,
				"deps", fmt.Sprintf("%d/%d", probed.Summary.Available, probed.Summary.Total),
			)
		}
		caps = capability.NewSet(sidecar, probed)
	}

	extractor, err := extract.New(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	if err != nil {
		return fmt.Errorf("failed to resolve extraction tools: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index := search.New(layout.LabelCachePath(), caps.Embedder, logger)
	if indexed, err := index.Rebuild(ctx, repo, layout); err != nil {
		logger.Warn("search index rebuild failed", "error", err)
	} else if indexed > 0 {
		logger.Info("search index rebuilt", "videos", indexed)
	}

	registry := worker.NewRegistry()
	service.SetCanceller(registry)
	service.SetIndexer(index)

	driver := worker.NewDriver(cfg, service, extractor, caps, fetch.NewHTTPFetcher(cfg.MaxUploadBytes(), logger), index, registry, logger)
	pool := worker.NewPool(queue, driver, cfg.Workers(), logger)
	pool.Start(ctx)

	janitor := worker.NewJanitor(service, cfg.StaleAfter()/2, logger)
	go janitor.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Config:    cfg,
		Service:   service,
		Search:    index,
		Streamer:  playback.NewStreamer(layout, logger),
		Doctor:    doctor,
		StartTime: startTime,
		Logger:    logger,
	})

	logger.Info("http api listening", "addr", apiServer.Addr())
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()
	pool.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
