package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/config"
	"github.com/Cody005/shadowguard/internal/guard/gateways/keystore"
	"github.com/Cody005/shadowguard/internal/guard/gateways/rulesource"
	"github.com/Cody005/shadowguard/internal/guard/gateways/statsink"
	"github.com/Cody005/shadowguard/internal/guard/services/core"
)

const (
	version = "0.1.0-dev"
	appName = "shadowguardd"

	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"listen":    fmt.Sprintf("%s:%d", cfg.Proxy.ListenAddr, cfg.Proxy.Port),
		"rule_dir":  cfg.Rules.Directory,
		"rule_urls": len(cfg.Rules.URLs),
	}, "starting shadowguard")

	c, err := buildCore(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "failed to build core")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
		cancel()
	}()

	if err := run(ctx, c); err != nil {
		log.Fatal(map[string]any{"error": err}, "shadowguard failed")
	}

	log.Info(nil, "shadowguard stopped gracefully")
}

// buildCore wires the gateway layer (persistent root key material and
// rule-list sources) and hands it to core.New, which builds every
// subsystem around it.
func buildCore(cfg *config.AppConfig) (*core.Core, error) {
	logger := log.GetLogger()
	store := keystore.NewFileStore(cfg.CA.KeystoreDir)
	rules := rulesource.New(cfg.Rules.Directory, cfg.Rules.URLs, logger.Component("rulesource"))
	stats := statsink.New()

	c, err := core.New(cfg, store, stats, logger, rules)
	if err != nil {
		return nil, fmt.Errorf("build core: %w", err)
	}
	return c, nil
}

// run starts the core and blocks until ctx is cancelled, then drains it
// within defaultShutdownTimeout.
func run(ctx context.Context, c *core.Core) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start core: %w", err)
	}
	log.Info(nil, "shadowguard running")

	<-ctx.Done()
	log.Info(nil, "shutdown initiated")

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stop core: %w", err)
		}
		return nil
	case <-time.After(defaultShutdownTimeout):
		return fmt.Errorf("shutdown timeout after %v", defaultShutdownTimeout)
	}
}
