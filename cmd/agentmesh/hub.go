package main

import (
	"context"
	"flag"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/agentmesh/agentmesh/hub"
	"github.com/agentmesh/agentmesh/internal/hub/config"
	"github.com/agentmesh/agentmesh/internal/logging"
)

func runHub(args []string) error {
	fs := flag.NewFlagSet("hub", flag.ExitOnError)
	cfg := config.DefineFlags(fs)
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if lvl, err := logging.ParseLevel(*logLevel); err == nil {
		logging.SetLevel(lvl)
	} else {
		slog.Warn("invalid log level, using info", "value", *logLevel)
	}

	logging.PrintBanner("hub", version, cfg.Addr)
	logging.PrintAccessURL(cfg.Addr)

	server, err := hub.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}
