// -----------------------------------------------------------------------
// Window Manager - Tracks transient windows and restores the single-window state
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
)

// ErrNoWindows is returned when the session has no page windows left
var ErrNoWindows = errors.New("no browser windows open")

// HandleSet is an unordered set of window handles
type HandleSet map[interfaces.WindowHandle]struct{}

// NewHandleSet builds a set from handles
func NewHandleSet(handles ...interfaces.WindowHandle) HandleSet {
	set := make(HandleSet, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	return set
}

func (s HandleSet) Contains(h interfaces.WindowHandle) bool {
	_, ok := s[h]
	return ok
}

func (s HandleSet) Add(h interfaces.WindowHandle) {
	s[h] = struct{}{}
}

// SessionState is the main window plus the windows observed by the last window operation.
// Only WindowManager produces new values; callers keep the latest one it returned.
type SessionState struct {
	Main   interfaces.WindowHandle
	Active interfaces.WindowHandle
	Live   []interfaces.WindowHandle
}

// SingleWindow reports whether the session is back to exactly {Main} with Main active
func (s SessionState) SingleWindow() bool {
	return len(s.Live) == 1 && s.Live[0] == s.Main && s.Active == s.Main
}

// WindowMatcher decides whether a window location is the one being waited for
type WindowMatcher func(location string) bool

// URLContains matches locations containing substr
func URLContains(substr string) WindowMatcher {
	return func(location string) bool {
		return strings.Contains(location, substr)
	}
}

// URLMatches matches locations against a regular expression
func URLMatches(re *regexp.Regexp) WindowMatcher {
	return func(location string) bool {
		return re.MatchString(location)
	}
}

// WindowManager keeps the single-window invariant around actions that open windows
type WindowManager struct {
	browser      interfaces.RemoteControl
	clock        Clock
	logger       arbor.ILogger
	pollInterval time.Duration
	maxPolls     int
}

// NewWindowManager creates a manager polling every pollInterval, at most maxPolls times
func NewWindowManager(browser interfaces.RemoteControl, clock Clock, logger arbor.ILogger, pollInterval time.Duration, maxPolls int) *WindowManager {
	if clock == nil {
		clock = NewRealClock()
	}
	if maxPolls < 1 {
		maxPolls = 1
	}
	return &WindowManager{
		browser:      browser,
		clock:        clock,
		logger:       logger,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
	}
}

// Establish records the active window as main for the rest of the run
func (m *WindowManager) Establish(ctx context.Context) (SessionState, error) {
	handles, err := m.browser.WindowHandles(ctx)
	if err != nil {
		return SessionState{}, fmt.Errorf("failed to list windows: %w", err)
	}
	if len(handles) == 0 {
		return SessionState{}, ErrNoWindows
	}

	main := m.browser.ActiveWindow()
	if !NewHandleSet(handles...).Contains(main) {
		main = handles[0]
	}

	state := SessionState{Main: main, Active: main, Live: handles}
	m.logger.Debug().
		Str("main", string(main)).
		Int("windows", len(handles)).
		Msg("Session main window established")

	// Start from a clean single window
	return m.Cleanup(ctx, state)
}

// Snapshot returns the handles currently open
func (m *WindowManager) Snapshot(ctx context.Context) (HandleSet, error) {
	handles, err := m.browser.WindowHandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	return NewHandleSet(handles...), nil
}

// AwaitNewWindow polls for windows not in baseline. Each new window is switched to and its
// location checked with match: the first match is returned as the active window, every
// mismatch is closed and never considered again. Windows still at about:blank are re-checked
// on the next poll. When nothing matches within the poll budget, found is false and the
// session is switched back to main.
func (m *WindowManager) AwaitNewWindow(ctx context.Context, state SessionState, baseline HandleSet, match WindowMatcher) (SessionState, interfaces.WindowHandle, bool, error) {
	rejected := NewHandleSet()

	for poll := 1; poll <= m.maxPolls; poll++ {
		handles, err := m.browser.WindowHandles(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Int("poll", poll).Msg("Failed to list windows while waiting")
		}

		for _, h := range handles {
			if baseline.Contains(h) || rejected.Contains(h) {
				continue
			}

			location, err := m.inspect(ctx, h)
			if err != nil {
				m.logger.Debug().Err(err).Str("handle", string(h)).Msg("Failed to inspect new window")
				continue
			}
			if isBlank(location) {
				m.logger.Trace().Str("handle", string(h)).Msg("New window still loading")
				continue
			}

			if match(location) {
				m.logger.Debug().
					Str("handle", string(h)).
					Str("url", location).
					Int("poll", poll).
					Msg("Matched new window")
				state.Active = h
				state.Live = liveHandles(handles, rejected)
				return state, h, true, nil
			}

			m.logger.Debug().
				Str("handle", string(h)).
				Str("url", location).
				Msg("Closing unrelated window")
			rejected.Add(h)
			if err := m.browser.CloseWindow(ctx); err != nil {
				m.logger.Warn().Err(err).Str("handle", string(h)).Msg("Failed to close unrelated window")
			}
		}

		// Never stay inside a discarded or pending window between polls
		active, err := m.switchTo(ctx, state.Main)
		if err != nil {
			return state, "", false, err
		}
		state.Active = active

		if poll < m.maxPolls {
			if err := m.clock.Sleep(ctx, m.pollInterval); err != nil {
				return state, "", false, err
			}
		}
	}

	if live, err := m.browser.WindowHandles(ctx); err == nil {
		state.Live = live
	}
	m.logger.Debug().Int("polls", m.maxPolls).Msg("No matching window appeared")
	return state, "", false, nil
}

// Cleanup closes every window except main and leaves main active. If main is gone, the
// first remaining window becomes main; callers must use the returned state. Safe to call
// repeatedly.
func (m *WindowManager) Cleanup(ctx context.Context, state SessionState) (SessionState, error) {
	handles, err := m.browser.WindowHandles(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to list windows for cleanup: %w", err)
	}
	if len(handles) == 0 {
		return state, ErrNoWindows
	}

	main := state.Main
	if !NewHandleSet(handles...).Contains(main) {
		m.logger.Warn().
			Str("previous_main", string(main)).
			Str("new_main", string(handles[0])).
			Msg("Main window missing, adopting first remaining window")
		main = handles[0]
	}

	var errs []error
	for _, h := range handles {
		if h == main {
			continue
		}
		if _, err := m.browser.SwitchWindow(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("switch to %s: %w", h, err))
			continue
		}
		if err := m.browser.CloseWindow(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h, err))
			continue
		}
		m.logger.Trace().Str("handle", string(h)).Msg("Closed window")
	}

	active, err := m.browser.SwitchWindow(ctx, main)
	if err != nil {
		errs = append(errs, fmt.Errorf("switch to main %s: %w", main, err))
	}

	live, listErr := m.browser.WindowHandles(ctx)
	if listErr != nil {
		errs = append(errs, listErr)
		live = []interfaces.WindowHandle{main}
	}

	next := SessionState{Main: main, Active: active, Live: live}
	if len(errs) > 0 {
		return next, fmt.Errorf("window cleanup incomplete: %w", errors.Join(errs...))
	}
	return next, nil
}

func (m *WindowManager) inspect(ctx context.Context, h interfaces.WindowHandle) (string, error) {
	if _, err := m.browser.SwitchWindow(ctx, h); err != nil {
		return "", err
	}
	return m.browser.CurrentURL(ctx)
}

func (m *WindowManager) switchTo(ctx context.Context, h interfaces.WindowHandle) (interfaces.WindowHandle, error) {
	active, err := m.browser.SwitchWindow(ctx, h)
	if err != nil {
		return "", fmt.Errorf("failed to switch back to main window: %w", err)
	}
	return active, nil
}

// liveHandles drops the windows closed during the wait
func liveHandles(handles []interfaces.WindowHandle, closed HandleSet) []interfaces.WindowHandle {
	live := make([]interfaces.WindowHandle, 0, len(handles))
	for _, h := range handles {
		if !closed.Contains(h) {
			live = append(live, h)
		}
	}
	return live
}

func isBlank(location string) bool {
	return location == "" || location == "about:blank"
}
