package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
)

// HomeConfig describes the page every entity workflow starts from
type HomeConfig struct {
	URL           string
	IsHome        WindowMatcher // location check for "still on the search page"
	ReadySelector string        // element that must exist before the page is usable
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	Settle        time.Duration
}

// HomeGuard opens the home page and forces a fresh navigation when the session drifted away
type HomeGuard struct {
	browser interfaces.RemoteControl
	clock   Clock
	logger  arbor.ILogger
	config  HomeConfig
}

func NewHomeGuard(browser interfaces.RemoteControl, clock Clock, logger arbor.ILogger, config HomeConfig) *HomeGuard {
	if clock == nil {
		clock = NewRealClock()
	}
	if config.IsHome == nil {
		config.IsHome = URLContains(config.URL)
	}
	return &HomeGuard{browser: browser, clock: clock, logger: logger, config: config}
}

// Open navigates to the home page and waits for document ready plus the ready selector
func (g *HomeGuard) Open(ctx context.Context) error {
	if _, err := g.browser.Navigate(ctx, g.config.URL); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", g.config.URL, err)
	}

	err := PollUntil(ctx, g.clock, g.config.PollInterval, g.config.ReadyTimeout, func(ctx context.Context) (bool, error) {
		state, err := g.browser.ReadyState(ctx)
		if err != nil {
			return false, nil
		}
		return state == "complete", nil
	})
	if err != nil {
		return fmt.Errorf("home page never reached ready state: %w", err)
	}

	if g.config.ReadySelector != "" {
		if err := g.browser.FindElement(ctx, g.config.ReadySelector, g.config.ReadyTimeout); err != nil {
			return fmt.Errorf("home page missing %s: %w", g.config.ReadySelector, err)
		}
	}

	if err := g.clock.Sleep(ctx, g.config.Settle); err != nil {
		return err
	}

	g.logger.Debug().Str("url", g.config.URL).Msg("Home page ready")
	return nil
}

// Ensure re-opens the home page unless the active window is already on it
func (g *HomeGuard) Ensure(ctx context.Context) error {
	location, err := g.browser.CurrentURL(ctx)
	if err == nil && g.config.IsHome(location) {
		return nil
	}

	g.logger.Info().
		Str("url", location).
		Msg("Session left the home page, navigating back")
	return g.Open(ctx)
}
