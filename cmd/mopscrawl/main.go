package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/mopscrawl/internal/app"
	"github.com/ternarybob/mopscrawl/internal/common"
	"github.com/ternarybob/mopscrawl/internal/services/crawler"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Only a session that cannot be started exits non-zero.
func run() int {
	defer common.RecoverWithCrashFile()

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file -> env)
	// 2. Initialize logger
	// 3. Print banner
	// 4. Install crash handler
	common.LoadVersionFromFile()

	configFiles := discoverConfig()
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		common.NewConsoleLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return 1
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.Version, config)
	common.InstallCrashHandler(common.LogsDir())

	logger.Debug().
		Strs("config_files", configFiles).
		Str("home_url", config.Session.HomeURL).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.LogOutputs()).
		Int("step_attempts", config.Retry.Step.MaxAttempts).
		Int("entity_attempts", config.Retry.Entity.MaxAttempts).
		Msg("Resolved configuration")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}
	defer application.Close()

	if _, err := application.Run(ctx); err != nil {
		if errors.Is(err, crawler.ErrFatalSession) {
			logger.Error().Err(err).Msg("Crawl aborted: session could not be initialized")
			return 1
		}
		logger.Warn().Err(err).Msg("Crawl finished with errors")
	}

	return 0
}

// discoverConfig returns MOPSCRAWL_CONFIG if set, else the first config file found
// in the working directory or deployments/local. No file means defaults plus env.
func discoverConfig() []string {
	if path := os.Getenv("MOPSCRAWL_CONFIG"); path != "" {
		return []string{path}
	}
	for _, candidate := range []string{"mopscrawl.toml", "deployments/local/mopscrawl.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return []string{candidate}
		}
	}
	return nil
}
