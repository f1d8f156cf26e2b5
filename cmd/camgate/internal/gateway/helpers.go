package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tinyland-inc/camgate/cmd/camgate/internal"
	"github.com/tinyland-inc/camgate/pkg/logger"
	"github.com/tinyland-inc/camgate/pkg/supervisor"
)

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if cfg.LogFile != "" {
		if err := logger.SetLogFile(cfg.LogFile); err != nil {
			fmt.Printf("⚠ Could not open log file %s: %v\n", cfg.LogFile, err)
		}
		defer logger.Close()
	}

	var cameras []string
	for _, cam := range cfg.Cameras {
		cameras = append(cameras, cam.Name)
	}
	fmt.Printf("✓ Watching %d camera(s): %s\n", len(cameras), strings.Join(cameras, ", "))
	fmt.Printf("✓ Bots configured: %d\n", len(cfg.Bots))
	fmt.Printf("✓ Status endpoints at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg)
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Println("\nShutdown complete")
	return nil
}
