package app

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mopscrawl/internal/common"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/services/browser"
	"github.com/ternarybob/mopscrawl/internal/services/crawler"
	"github.com/ternarybob/mopscrawl/internal/services/extract"
	"github.com/ternarybob/mopscrawl/internal/storage/badger"
	"github.com/ternarybob/mopscrawl/internal/storage/dataset"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Browser    *browser.ChromeSession
	Repository interfaces.EntityRepository
	Ledger     interfaces.RunLedger
	Controller *crawler.Controller

	db *badger.BadgerDB
}

// New initializes the application with all dependencies.
// A browser that cannot be launched is a fatal session error.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}

	session, err := browser.NewChromeSession(BrowserConfig(cfg), logger)
	if err != nil {
		app.closeStorage()
		return nil, fmt.Errorf("%w: %v", crawler.ErrFatalSession, err)
	}
	app.Browser = session

	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, err
	}

	logger.Info().
		Str("input", cfg.Dataset.Input).
		Str("output", cfg.Dataset.Output).
		Bool("ledger", app.Ledger != nil).
		Bool("resolver", cfg.Resolver.Enabled).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initStorage() error {
	a.Repository = dataset.NewWorkbookRepository(a.Config.Dataset.Input, a.Config.Dataset.Output, a.Logger)

	if !a.Config.Storage.Badger.Enabled {
		return nil
	}

	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		// The ledger is diagnostic only; the crawl runs without it
		a.Logger.Warn().Err(err).Str("path", a.Config.Storage.Badger.Path).Msg("Run ledger unavailable, continuing without it")
		return nil
	}
	a.db = db
	a.Ledger = badger.NewLedgerStorage(db, a.Logger)
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config
	clock := crawler.NewRealClock()
	executor := crawler.NewRetryExecutor(clock, a.Logger)
	stepPolicy := RetryPolicy(cfg.Retry.Step)

	workflowConfig, err := WorkflowConfig(cfg)
	if err != nil {
		return err
	}

	windows := crawler.NewWindowManager(
		a.Browser,
		clock,
		a.Logger,
		common.Duration(cfg.Workflow.WindowPollInterval),
		cfg.Workflow.WindowMaxPolls,
	)
	home := crawler.NewHomeGuard(a.Browser, clock, a.Logger, HomeConfig(cfg))
	workflow := crawler.NewWorkflow(
		a.Browser,
		windows,
		extract.NewHTMLExtractor(a.Logger),
		executor,
		stepPolicy,
		home,
		clock,
		a.Logger,
		workflowConfig,
	)

	var resolver *crawler.CodeResolver
	if cfg.Resolver.Enabled {
		resolver = crawler.NewCodeResolver(a.Browser, executor, stepPolicy, clock, a.Logger, ResolverConfig(cfg))
	}

	a.Controller = crawler.NewController(
		crawler.ControllerDeps{
			Browser:  a.Browser,
			Windows:  windows,
			Workflow: workflow,
			Home:     home,
			Resolver: resolver,
			Repo:     a.Repository,
			Ledger:   a.Ledger,
			Executor: executor,
			Clock:    clock,
			Logger:   a.Logger,
		},
		crawler.ControllerConfig{
			StepPolicy:   stepPolicy,
			EntityPolicy: RetryPolicy(cfg.Retry.Entity),
			EntityPace:   common.Duration(cfg.Session.EntityPace),
			SaveTimeout:  time.Minute,
		},
	)
	return nil
}

// Run executes one crawl over the configured dataset
func (a *App) Run(ctx context.Context) (*crawler.RunSummary, error) {
	return a.Controller.Run(ctx)
}

// Close releases the browser and the ledger. Safe to call more than once.
func (a *App) Close() error {
	var err error
	if a.Browser != nil {
		err = a.Browser.Close()
	}
	a.closeStorage()
	return err
}

func (a *App) closeStorage() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close run ledger")
	}
	a.db = nil
}

// BrowserConfig maps the browser section onto launch options
func BrowserConfig(cfg *common.Config) browser.Config {
	return browser.Config{
		Headless:       cfg.Browser.Headless,
		DisableGPU:     cfg.Browser.DisableGPU,
		NoSandbox:      cfg.Browser.NoSandbox,
		UserAgent:      cfg.Browser.UserAgent,
		WindowWidth:    cfg.Browser.WindowWidth,
		WindowHeight:   cfg.Browser.WindowHeight,
		StartupTimeout: common.Duration(cfg.Browser.StartupTimeout),
		ActionTimeout:  common.Duration(cfg.Browser.ActionTimeout),
	}
}

// RetryPolicy maps one retry section onto a crawler policy
func RetryPolicy(rc common.RetryPolicyConfig) crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   common.Duration(rc.BaseDelay),
		Backoff:     crawler.BackoffKind(rc.Backoff),
		Multiplier:  rc.Multiplier,
		MaxDelay:    common.Duration(rc.MaxDelay),
	}
}

// HomeConfig maps the session section onto the home page guard
func HomeConfig(cfg *common.Config) crawler.HomeConfig {
	return crawler.HomeConfig{
		URL:           cfg.Session.HomeURL,
		IsHome:        crawler.URLContains(cfg.Session.HomeMarker),
		ReadySelector: cfg.Session.ReadySelector,
		ReadyTimeout:  common.Duration(cfg.Session.ReadyTimeout),
		PollInterval:  common.Duration(cfg.Session.PollInterval),
		Settle:        common.Duration(cfg.Session.Settle),
	}
}

// WorkflowConfig maps the workflow and report sections onto the per-entity workflow
func WorkflowConfig(cfg *common.Config) (crawler.WorkflowConfig, error) {
	pattern, err := regexp.Compile(cfg.Report.WindowPattern)
	if err != nil {
		return crawler.WorkflowConfig{}, fmt.Errorf("invalid report window pattern %q: %w", cfg.Report.WindowPattern, err)
	}

	wc := crawler.NewWorkflowConfig()
	wc.SearchInput = cfg.Workflow.SearchInput
	wc.SubmitButton = cfg.Workflow.SubmitButton
	wc.ReportTrigger = cfg.Workflow.ReportTrigger
	wc.ElementWait = common.Duration(cfg.Workflow.ElementWait)
	wc.TypeSettle = common.Duration(cfg.Workflow.TypeSettle)
	wc.SubmitSettle = common.Duration(cfg.Workflow.SubmitSettle)
	wc.ExportSettle = common.Duration(cfg.Workflow.ExportSettle)
	wc.CleanupTimeout = common.Duration(cfg.Workflow.CleanupTimeout)
	wc.ReportYear = cfg.Report.Year
	wc.ReportSeason = cfg.Report.Season
	wc.ReportAction = cfg.Report.Action
	wc.ReportWindow = crawler.URLMatches(pattern)
	return wc, nil
}

// ResolverConfig maps the resolver section onto the code resolver
func ResolverConfig(cfg *common.Config) crawler.ResolverConfig {
	return crawler.ResolverConfig{
		URL:          cfg.Resolver.URL,
		SearchInput:  cfg.Resolver.SearchInput,
		ResultBlock:  cfg.Resolver.ResultBlock,
		ResultLink:   cfg.Resolver.ResultLink,
		ElementWait:  common.Duration(cfg.Resolver.ElementWait),
		PageSettle:   common.Duration(cfg.Resolver.PageSettle),
		TypeSettle:   common.Duration(cfg.Resolver.TypeSettle),
		LookupPacing: common.Duration(cfg.Resolver.Pacing),
	}
}
