// ABOUTME: Entry point for the live-input-to-airplay daemon
// ABOUTME: Parses configuration, wires components, and handles graceful shutdown
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/config"
	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/internal/discovery"
	"github.com/alphalpha/live-input-to-airplay/internal/hub"
	"github.com/alphalpha/live-input-to-airplay/internal/orch"
	"github.com/alphalpha/live-input-to-airplay/internal/owntone"
	"github.com/alphalpha/live-input-to-airplay/internal/server"
	"github.com/alphalpha/live-input-to-airplay/internal/systemd"
	"github.com/alphalpha/live-input-to-airplay/internal/version"
	"github.com/alphalpha/live-input-to-airplay/internal/watch"
)

func main() {
	cfg := config.FromFlags(flag.CommandLine)
	flag.Parse()

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("starting "+version.Product,
		zap.String("version", version.Version),
		zap.String("owntone", cfg.OwnToneEndpoint),
		zap.String("core_unit", cfg.CoreUnit),
		zap.String("pipe_unit", cfg.PipeUnit))

	store, err := defaults.NewStore(cfg.DataDir, logger.Named("defaults"))
	if err != nil {
		logger.Fatal("defaults store", zap.Error(err))
	}

	services := systemd.New(logger.Named("systemd"))
	client := owntone.NewClient(cfg.OwnToneEndpoint)
	h := hub.New(logger.Named("hub"))

	orchestrator := orch.New(orch.Config{
		CoreUnit:          cfg.CoreUnit,
		PipeUnit:          cfg.PipeUnit,
		ActivationTimeout: cfg.ActivationTimeout,
		OutputsTimeout:    cfg.OutputsTimeout,
		PollGranularity:   cfg.PollGranularity,
		StopSettleDelay:   cfg.StopSettleDelay,
	}, services, client, store, h, logger.Named("orch"))

	watcher := watch.New(services, client, store, h,
		cfg.CoreUnit, cfg.PipeUnit, cfg.PollInterval, logger.Named("watch"))

	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		CoreUnit:   cfg.CoreUnit,
		PipeUnit:   cfg.PipeUnit,
	}, services, client, store, h, orchestrator, logger.Named("http"))

	watchCtx, stopWatcher := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		watcher.Run(watchCtx)
	}()

	var advertiser *discovery.Advertiser
	if cfg.EnableMDNS {
		advertiser = discovery.NewAdvertiser(discovery.Config{
			InstanceID: srv.ID(),
			Port:       listenPort(cfg.ListenAddr),
		}, logger.Named("mdns"))
		if err := advertiser.Advertise(); err != nil {
			logger.Warn("mDNS advertisement failed", zap.Error(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", zap.String("signal", sig.String()))
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		logger.Error("http server failed", zap.Error(err))
	}

	// Unwind: stop the watcher, drop subscribers, release the upstream
	// connection, withdraw the advertisement.
	stopWatcher()
	<-watcherDone
	if advertiser != nil {
		advertiser.Stop()
	}
	h.Close()
	client.Close()

	logger.Info("stopped cleanly")
}

// listenPort extracts the numeric port from a listen address like
// ":8080" or "0.0.0.0:8080". Unknown forms advertise port 0, which
// front ends ignore.
func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
