package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/config"
)

// =============================================================================
// 🔥 warm 命令
// =============================================================================

// runWarm 为所有带文档类型的已存储 Schema 预先合成提示词
func runWarm(args []string) {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := warm(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Warm failed: %v\n", err)
		os.Exit(1)
	}
}

func warm(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if a.schemas == nil {
		return fmt.Errorf("schema store unavailable: check database configuration")
	}

	schemas, err := a.schemas.ListTyped(ctx)
	if err != nil {
		return fmt.Errorf("list schemas: %w", err)
	}

	report, err := a.orchestrator.WarmPrompts(ctx, schemas)
	if err != nil {
		return err
	}

	fmt.Printf("Warmed %d prompt(s), skipped %d, failed %d\n", report.Warmed, report.Skipped, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d prompt(s) could not be synthesized", report.Failed)
	}
	return nil
}
