package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/logging"
	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/peer"
)

const defaultConfigPath = "cmd/peerd/config.toml"

func loadConfig(path string, explicit bool) (config.PeerConfig, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.DefaultPeerConfig(), nil
		}
	}
	return config.LoadPeerConfig(path)
}

func run() error {
	path := flag.String("config", defaultConfigPath, "peer config path")
	outDir := flag.String("output", "", "override output_dir")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadConfig(*path, explicit)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}

	logging.ConfigureRuntime()
	observability.InitLogger("peerd", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := peer.New(peer.ConfigFrom(cfg), &peer.FileSink{Dir: cfg.OutputDir}, peer.StaticReply([]byte(cfg.ReplyData)))
	return srv.Run(ctx)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerd: %v\n", err)
		os.Exit(1)
	}
}
