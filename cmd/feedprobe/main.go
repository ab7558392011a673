// feedprobe connects to the realtime feed, subscribes to every watched
// collection, and prints decoded change events to the console.
//
// Usage: go run ./cmd/feedprobe --config configs/engine.local.yaml
//
// Required environment variables:
//
//	HABITSTACK_ACCESS_TOKEN - access token bound to the feed connection
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/config"
	"github.com/habitstack/realtime/internal/connection"
	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/subscription"
)

func main() {
	configPath := flag.String("config", "configs/engine.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	token := os.Getenv("HABITSTACK_ACCESS_TOKEN")
	cli := connection.NewClient(connection.ClientConfig{
		URL:            cfg.Feed.URL,
		Token:          token,
		PingTimeout:    cfg.Feed.PingTimeout,
		WriteTimeout:   cfg.Feed.WriteTimeout,
		RequestTimeout: cfg.Feed.RequestTimeout,
		BufferSize:     cfg.Feed.FrameBufferSize,
	}, logger)

	if err := cli.Connect(ctx); err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer cli.Close()

	if err := cli.Authenticate(ctx, token); err != nil {
		logger.Error("credential binding failed", "error", err)
		os.Exit(1)
	}

	registry := subscription.NewRegistry(model.WatchList(), cfg.Subscribe.SettleTimeout, clock.New(), logger)
	health := registry.OpenAll(ctx, cli)
	logger.Info("channels settled", "live", health.Live, "total", health.Total)
	for _, name := range registry.Failed() {
		sub, _ := registry.Get(name)
		logger.Warn("channel failed", "collection", name, "reason", sub.Reason)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-cli.Errors():
			logger.Error("transport failure", "error", err)
			return
		case frame := <-cli.Frames():
			if *verbose {
				fmt.Println(string(frame.Data))
				continue
			}
			var wire struct {
				Type       string       `json:"type"`
				Collection string       `json:"collection"`
				Op         string       `json:"op"`
				After      model.Record `json:"after"`
			}
			if err := json.Unmarshal(frame.Data, &wire); err != nil {
				logger.Warn("unparsable frame", "error", err)
				continue
			}
			fmt.Printf("%s %s %s id=%s\n",
				frame.ReceivedAt.Format("15:04:05.000"),
				wire.Collection,
				wire.Op,
				wire.After.ID(),
			)
		}
	}
}
