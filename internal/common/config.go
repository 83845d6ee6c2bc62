package common

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Session     SessionConfig  `toml:"session"`
	Browser     BrowserConfig  `toml:"browser"`
	Workflow    WorkflowConfig `toml:"workflow"`
	Report      ReportConfig   `toml:"report"`
	Retry       RetryConfig    `toml:"retry"`
	Dataset     DatasetConfig  `toml:"dataset"`
	Resolver    ResolverConfig `toml:"resolver"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

// SessionConfig describes the home page and pacing of the crawl loop
type SessionConfig struct {
	HomeURL       string `toml:"home_url" validate:"required,url"`
	HomeMarker    string `toml:"home_marker" validate:"required"`    // substring of the home page URL
	ReadySelector string `toml:"ready_selector" validate:"required"` // element that must exist once the page is usable
	ReadyTimeout  string `toml:"ready_timeout" validate:"duration"`
	PollInterval  string `toml:"poll_interval" validate:"duration"`
	Settle        string `toml:"settle" validate:"duration"`
	EntityPace    string `toml:"entity_pace" validate:"duration"` // minimum spacing between entities
}

type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	DisableGPU     bool   `toml:"disable_gpu"`
	NoSandbox      bool   `toml:"no_sandbox"`
	UserAgent      string `toml:"user_agent"`
	WindowWidth    int    `toml:"window_width" validate:"gte=0"`
	WindowHeight   int    `toml:"window_height" validate:"gte=0"`
	StartupTimeout string `toml:"startup_timeout" validate:"duration"`
	ActionTimeout  string `toml:"action_timeout" validate:"duration"`
}

// WorkflowConfig holds selectors and bounded waits of the per-entity workflow
type WorkflowConfig struct {
	SearchInput        string `toml:"search_input" validate:"required"`
	SubmitButton       string `toml:"submit_button" validate:"required"`
	ReportTrigger      string `toml:"report_trigger" validate:"required"`
	ElementWait        string `toml:"element_wait" validate:"duration"`
	TypeSettle         string `toml:"type_settle" validate:"duration"`
	SubmitSettle       string `toml:"submit_settle" validate:"duration"`
	ExportSettle       string `toml:"export_settle" validate:"duration"`
	CleanupTimeout     string `toml:"cleanup_timeout" validate:"duration"`
	WindowPollInterval string `toml:"window_poll_interval" validate:"duration"`
	WindowMaxPolls     int    `toml:"window_max_polls" validate:"min=1"`
}

// ReportConfig is the fixed report target: one year, one quarter
type ReportConfig struct {
	Year          string `toml:"year" validate:"required,numeric"`   // ROC calendar year, e.g. "113"
	Season        string `toml:"season" validate:"required,numeric"` // "01".."04"
	Action        string `toml:"action" validate:"required"`
	WindowPattern string `toml:"window_pattern" validate:"required,regexp"` // matched against new window URLs
}

type RetryConfig struct {
	Step   RetryPolicyConfig `toml:"step"`
	Entity RetryPolicyConfig `toml:"entity"`
}

type RetryPolicyConfig struct {
	MaxAttempts int     `toml:"max_attempts" validate:"min=1"`
	BaseDelay   string  `toml:"base_delay" validate:"duration"`
	Backoff     string  `toml:"backoff" validate:"oneof=linear exponential"`
	Multiplier  float64 `toml:"multiplier" validate:"gte=1"`
	MaxDelay    string  `toml:"max_delay" validate:"omitempty,duration"`
}

type DatasetConfig struct {
	Input  string `toml:"input" validate:"required"`
	Output string `toml:"output" validate:"required"`
}

// ResolverConfig controls lookup of missing company codes by name
type ResolverConfig struct {
	Enabled     bool   `toml:"enabled"`
	URL         string `toml:"url" validate:"required,url"`
	SearchInput string `toml:"search_input" validate:"required"`
	ResultBlock string `toml:"result_block" validate:"required"`
	ResultLink  string `toml:"result_link" validate:"required"`
	ElementWait string `toml:"element_wait" validate:"duration"`
	PageSettle  string `toml:"page_settle" validate:"duration"`
	TypeSettle  string `toml:"type_settle" validate:"duration"`
	Pacing      string `toml:"pacing" validate:"duration"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents the run ledger database
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path" validate:"required_if=Enabled true"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output" validate:"dive,oneof=stdout console file"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Session: SessionConfig{
			HomeURL:       "https://mopsov.twse.com.tw/mops/web/index",
			HomeMarker:    "index",
			ReadySelector: "#keyword",
			ReadyTimeout:  "10s",
			PollInterval:  "500ms",
			Settle:        "2s",
			EntityPace:    "3s",
		},
		Browser: BrowserConfig{
			Headless:       false,
			DisableGPU:     true,
			NoSandbox:      true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			WindowWidth:    1920,
			WindowHeight:   1080,
			StartupTimeout: "30s",
			ActionTimeout:  "30s",
		},
		Workflow: WorkflowConfig{
			SearchInput:        "#keyword",
			SubmitButton:       "#rulesubmit",
			ReportTrigger:      "#button11",
			ElementWait:        "10s",
			TypeSettle:         "1s",
			SubmitSettle:       "3s",
			ExportSettle:       "2s",
			CleanupTimeout:     "30s",
			WindowPollInterval: "1s",
			WindowMaxPolls:     10,
		},
		Report: ReportConfig{
			Year:          "113",
			Season:        "04",
			Action:        "/mops/web/ajax_t164sb04",
			WindowPattern: "ajax_t164sb04",
		},
		Retry: RetryConfig{
			Step: RetryPolicyConfig{
				MaxAttempts: 3,
				BaseDelay:   "5s",
				Backoff:     "linear",
				Multiplier:  2,
			},
			Entity: RetryPolicyConfig{
				MaxAttempts: 3,
				BaseDelay:   "5s",
				Backoff:     "linear",
				Multiplier:  2,
			},
		},
		Dataset: DatasetConfig{
			Input:  "data/input/company_list.xlsx",
			Output: "data/output/results.xlsx",
		},
		Resolver: ResolverConfig{
			Enabled:     false,
			URL:         "https://mops.twse.com.tw/mops/#/web/home",
			SearchInput: "#searchInfo",
			ResultBlock: ".searchBlock",
			ResultLink:  ".searchBlock a",
			ElementWait: "10s",
			PageSettle:  "2s",
			TypeSettle:  "2s",
			Pacing:      "1s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data/ledger",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files. The result is validated.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section against its struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	_ = validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies MOPSCRAWL_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MOPSCRAWL_ENV"); env != "" {
		config.Environment = env
	}

	// Session
	if homeURL := os.Getenv("MOPSCRAWL_HOME_URL"); homeURL != "" {
		config.Session.HomeURL = homeURL
	}
	if pace := os.Getenv("MOPSCRAWL_ENTITY_PACE"); pace != "" {
		config.Session.EntityPace = pace
	}

	// Browser
	if headless := os.Getenv("MOPSCRAWL_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userAgent := os.Getenv("MOPSCRAWL_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}

	// Report target
	if year := os.Getenv("MOPSCRAWL_REPORT_YEAR"); year != "" {
		config.Report.Year = year
	}
	if season := os.Getenv("MOPSCRAWL_REPORT_SEASON"); season != "" {
		config.Report.Season = season
	}

	// Retry
	if attempts := os.Getenv("MOPSCRAWL_STEP_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Retry.Step.MaxAttempts = a
		}
	}
	if attempts := os.Getenv("MOPSCRAWL_ENTITY_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Retry.Entity.MaxAttempts = a
		}
	}

	// Dataset
	if input := os.Getenv("MOPSCRAWL_INPUT"); input != "" {
		config.Dataset.Input = input
	}
	if output := os.Getenv("MOPSCRAWL_OUTPUT"); output != "" {
		config.Dataset.Output = output
	}

	// Resolver
	if enabled := os.Getenv("MOPSCRAWL_RESOLVER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Resolver.Enabled = e
		}
	}

	// Storage
	if enabled := os.Getenv("MOPSCRAWL_BADGER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = e
		}
	}
	if badgerPath := os.Getenv("MOPSCRAWL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging
	if level := os.Getenv("MOPSCRAWL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MOPSCRAWL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// Duration parses a validated duration string; unparseable values yield 0
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// LogOutputs returns the configured log sinks. When none are configured, production
// logs to file only and development logs to stdout and file.
func (c *Config) LogOutputs() []string {
	if len(c.Logging.Output) > 0 {
		return c.Logging.Output
	}
	if c.IsProduction() {
		return []string{"file"}
	}
	return []string{"stdout", "file"}
}
