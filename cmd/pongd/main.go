package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/decred/slog"

	"github.com/pongnet/pongd/cluster"
	"github.com/pongnet/pongd/server"
)

func realMain() error {
	var (
		configPath = flag.String("config", "pongd.toml", "path to config file")
		role       = flag.String("role", "", "override node role (lobby, game, matchmaker)")
		addr       = flag.String("addr", "", "override listen address")
		dataDir    = flag.String("datadir", "", "override data directory")
		debugLevel = flag.String("debuglevel", "", "override log level")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *role != "" {
		cfg.Server.Role = *role
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}
	if *debugLevel != "" {
		cfg.Logging.Level = *debugLevel
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	peers := make([]cluster.Peer, 0, len(cfg.Cluster.Peers))
	for _, p := range cfg.Cluster.Peers {
		peers = append(peers, cluster.Peer{Addr: p.Addr, Tags: p.Tags})
	}
	policy := cluster.PickRandom
	if cfg.Cluster.PickPolicy == "round_robin" {
		policy = cluster.PickRoundRobin
	}

	srv, err := server.NewServer(server.Config{
		Role:          cfg.Server.Role,
		Name:          cfg.Server.Name,
		Addr:          cfg.Server.Addr,
		DataDir:       cfg.Server.DataDir,
		AdvertiseAddr: cfg.Cluster.AdvertiseAddr,
		Peers:         peers,
		PickPolicy:    policy,
		MatchTimeout:  cfg.Matchmaking.Timeout(),
		JoinTimeout:   cfg.Game.JoinTimeout(),
		ResultURL:     cfg.Game.ResultURL,
		LogBackend:    slog.NewBackend(os.Stdout),
		DebugLevel:    cfg.Logging.Level,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
