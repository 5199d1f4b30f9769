// Package main provides the game server binary: the shared TCP/UDP game
// transport and the tick loop that consumes it.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stormfell/gameserver/internal/banlist"
	"github.com/stormfell/gameserver/internal/config"
	"github.com/stormfell/gameserver/internal/game"
	"github.com/stormfell/gameserver/internal/network"
	"github.com/stormfell/gameserver/internal/observability"
	"github.com/stormfell/gameserver/internal/server"
	"github.com/stormfell/gameserver/internal/stats"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	flag.Parse()

	ctx := context.Background()

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("addr", cfg.Network.Addr()),
		zap.Bool("udp", cfg.Network.EnableUDP),
	)

	// Load the ban list.
	banStart := time.Now()
	bans, err := banlist.Load(cfg.Banlist.Path)
	if err != nil {
		logger.Fatal("loading ban list", zap.Error(err))
	}
	logger.Info("ban list loaded",
		zap.Int("rules", bans.Len()),
		zap.Duration("elapsed", time.Since(banStart)),
	)

	if cfg.Banlist.Watch && cfg.Banlist.Path != "" {
		watcher, err := banlist.NewWatcher(bans, logger)
		if err != nil {
			logger.Fatal("starting ban list watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	registry := stats.NewRegistry(prometheus.DefaultRegisterer)
	manager := network.NewManager(cfg.Network, bans, registry, logger)
	loop := game.NewLoop(manager, cfg.Game.TickInterval, logger)

	runner := server.NewRunner(logger)
	runner.Add("transport", manager)
	runner.Add("game-loop", loop)

	if cfg.Metrics.Addr != "" {
		metricsSrv := observability.NewMetricsServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, logger)
		runner.Add("metrics", metricsSrv)
	}

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := runner.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
