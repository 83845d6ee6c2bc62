package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// ResolverConfig describes the company code search page
type ResolverConfig struct {
	URL          string
	SearchInput  string
	ResultBlock  string
	ResultLink   string
	ElementWait  time.Duration
	PageSettle   time.Duration
	TypeSettle   time.Duration
	LookupPacing time.Duration
}

// NewResolverConfig returns the settings for the MOPS code search page
func NewResolverConfig() ResolverConfig {
	return ResolverConfig{
		URL:          "https://mops.twse.com.tw/mops/#/web/home",
		SearchInput:  "#searchInfo",
		ResultBlock:  ".searchBlock",
		ResultLink:   ".searchBlock a",
		ElementWait:  10 * time.Second,
		PageSettle:   2 * time.Second,
		TypeSettle:   2 * time.Second,
		LookupPacing: 1 * time.Second,
	}
}

// CodeResolver fills in missing entity codes by searching the company name.
// The first search hit reads "<code> <name>".
type CodeResolver struct {
	browser  interfaces.RemoteControl
	executor *RetryExecutor
	policy   RetryPolicy
	clock    Clock
	logger   arbor.ILogger
	config   ResolverConfig
}

func NewCodeResolver(browser interfaces.RemoteControl, executor *RetryExecutor, policy RetryPolicy, clock Clock, logger arbor.ILogger, config ResolverConfig) *CodeResolver {
	if clock == nil {
		clock = NewRealClock()
	}
	return &CodeResolver{
		browser:  browser,
		executor: executor,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		config:   config,
	}
}

// Resolve looks up a code for every entity without one, in place. Entities whose lookup
// fails get NoCodeSentinel. Returns how many codes were found.
func (r *CodeResolver) Resolve(ctx context.Context, entities []models.Entity) (int, error) {
	pending := 0
	for _, e := range entities {
		if !e.HasCode() {
			pending++
		}
	}
	if pending == 0 {
		return 0, nil
	}

	r.logger.Info().Int("pending", pending).Msg("Resolving missing company codes")

	if _, err := r.browser.Navigate(ctx, r.config.URL); err != nil {
		return 0, fmt.Errorf("failed to open code search page: %w", err)
	}
	if err := r.clock.Sleep(ctx, r.config.PageSettle); err != nil {
		return 0, err
	}

	resolved := 0
	for i := range entities {
		if entities[i].HasCode() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		name := entities[i].Name
		code, err := Retry(ctx, r.executor, "resolve "+name, r.policy, nil, func(ctx context.Context) (string, error) {
			return r.lookup(ctx, name)
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("entity", name).Msg("Company code not found")
			entities[i].Code = models.NoCodeSentinel
		} else {
			r.logger.Info().Str("entity", name).Str("code", code).Msg("Company code resolved")
			entities[i].Code = code
			resolved++
		}

		if err := r.clock.Sleep(ctx, r.config.LookupPacing); err != nil {
			return resolved, err
		}
	}

	return resolved, nil
}

func (r *CodeResolver) lookup(ctx context.Context, name string) (string, error) {
	if err := r.browser.FindElement(ctx, r.config.SearchInput, r.config.ElementWait); err != nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, r.config.SearchInput)
	}
	if err := r.browser.Clear(ctx, r.config.SearchInput); err != nil {
		return "", err
	}
	if err := r.browser.TypeText(ctx, r.config.SearchInput, name); err != nil {
		return "", err
	}
	if err := r.clock.Sleep(ctx, r.config.TypeSettle); err != nil {
		return "", err
	}
	if err := r.browser.FindElement(ctx, r.config.ResultBlock, r.config.ElementWait); err != nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, r.config.ResultBlock)
	}

	text, err := r.browser.Text(ctx, r.config.ResultLink)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty search result for %q", name)
	}
	return fields[0], nil
}
