// -----------------------------------------------------------------------
// Chrome Session - chromedp-backed remote control for one browser
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mopscrawl/internal/interfaces"
)

// Config holds browser launch options
type Config struct {
	Headless       bool
	DisableGPU     bool
	NoSandbox      bool
	UserAgent      string
	WindowWidth    int
	WindowHeight   int
	StartupTimeout time.Duration
	ActionTimeout  time.Duration
}

// NewDefaultConfig mirrors the options the crawler has always launched Chrome with
func NewDefaultConfig() Config {
	return Config{
		Headless:       false,
		DisableGPU:     true,
		NoSandbox:      true,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		WindowWidth:    1920,
		WindowHeight:   1080,
		StartupTimeout: 30 * time.Second,
		ActionTimeout:  30 * time.Second,
	}
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc // nil for the window owned by the browser context
}

// ChromeSession implements interfaces.RemoteControl on a single Chrome instance.
// It is not safe for concurrent use; the crawler drives it from one goroutine.
type ChromeSession struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	tabs            map[interfaces.WindowHandle]*tab
	active          interfaces.WindowHandle
	config          Config
	logger          arbor.ILogger
}

var _ interfaces.RemoteControl = (*ChromeSession)(nil)

// NewChromeSession launches Chrome and verifies it responds
func NewChromeSession(config Config, logger arbor.ILogger) (*ChromeSession, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("allow-running-insecure-content", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		// Report exports open in new windows; the popup blocker would swallow them
		chromedp.Flag("disable-popup-blocking", true),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}
	if config.WindowWidth > 0 && config.WindowHeight > 0 {
		allocatorOpts = append(allocatorOpts, chromedp.WindowSize(config.WindowWidth, config.WindowHeight))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// The first Run starts the browser; it must use the long-lived context
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	startupTimeout := config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed responsiveness test: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser started without a page target")
	}
	main := interfaces.WindowHandle(c.Target.TargetID)

	logger.Info().
		Bool("headless", config.Headless).
		Str("main_window", string(main)).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return &ChromeSession{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		tabs:            map[interfaces.WindowHandle]*tab{main: {ctx: browserCtx}},
		active:          main,
		config:          config,
		logger:          logger,
	}, nil
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) (interfaces.WindowHandle, error) {
	if err := s.run(ctx, s.config.ActionTimeout, chromedp.Navigate(url)); err != nil {
		return s.active, err
	}
	return s.active, nil
}

func (s *ChromeSession) FindElement(ctx context.Context, selector string, wait time.Duration) error {
	return s.run(ctx, wait, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *ChromeSession) WaitClickable(ctx context.Context, selector string, wait time.Duration) error {
	return s.run(ctx, wait,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.WaitEnabled(selector, chromedp.ByQuery),
	)
}

func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.config.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *ChromeSession) Clear(ctx context.Context, selector string) error {
	return s.run(ctx, s.config.ActionTimeout, chromedp.Clear(selector, chromedp.ByQuery))
}

func (s *ChromeSession) TypeText(ctx context.Context, selector string, text string) error {
	return s.run(ctx, s.config.ActionTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (s *ChromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, s.config.ActionTimeout, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

// ExecuteScript wraps script in a function so it can read arguments[i]
func (s *ChromeSession) ExecuteScript(ctx context.Context, script string, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode script arguments: %w", err)
	}
	expression := fmt.Sprintf("(function(){\n%s\n}).apply(null, %s)", script, encoded)
	return s.run(ctx, s.config.ActionTimeout, chromedp.Evaluate(expression, nil))
}

// WindowHandles lists page targets in the order the browser reports them
func (s *ChromeSession) WindowHandles(ctx context.Context) ([]interfaces.WindowHandle, error) {
	listCtx, cancel := s.derive(ctx, s.browserCtx, s.config.ActionTimeout)
	defer cancel()

	targets, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	handles := make([]interfaces.WindowHandle, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		handles = append(handles, interfaces.WindowHandle(t.TargetID))
	}
	return handles, nil
}

// SwitchWindow attaches to handle on first use
func (s *ChromeSession) SwitchWindow(ctx context.Context, handle interfaces.WindowHandle) (interfaces.WindowHandle, error) {
	if _, ok := s.tabs[handle]; !ok {
		tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(handle)))
		if err := chromedp.Run(tabCtx); err != nil {
			tabCancel()
			return s.active, fmt.Errorf("failed to attach to window %s: %w", handle, err)
		}
		s.tabs[handle] = &tab{ctx: tabCtx, cancel: tabCancel}
		s.logger.Trace().Str("handle", string(handle)).Msg("Attached to window")
	}

	s.active = handle
	return handle, nil
}

func (s *ChromeSession) ActiveWindow() interfaces.WindowHandle {
	return s.active
}

// CloseWindow closes the active window and leaves no window active
func (s *ChromeSession) CloseWindow(ctx context.Context) error {
	handle := s.active
	t, ok := s.tabs[handle]
	if !ok {
		return fmt.Errorf("no active window")
	}

	err := s.run(ctx, s.config.ActionTimeout, page.Close())
	if t.cancel != nil {
		t.cancel()
	}
	delete(s.tabs, handle)
	s.active = ""

	if err != nil {
		return fmt.Errorf("failed to close window %s: %w", handle, err)
	}
	return nil
}

func (s *ChromeSession) CurrentURL(ctx context.Context) (string, error) {
	var location string
	err := s.run(ctx, s.config.ActionTimeout, chromedp.Location(&location))
	return location, err
}

func (s *ChromeSession) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := s.run(ctx, s.config.ActionTimeout, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

func (s *ChromeSession) PageHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.config.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Close shuts the browser down. Safe to call more than once.
func (s *ChromeSession) Close() error {
	if s.browserCancel == nil && s.allocatorCancel == nil {
		return nil
	}
	for handle, t := range s.tabs {
		if t.cancel != nil {
			t.cancel()
		}
		delete(s.tabs, handle)
	}
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocatorCancel != nil {
		s.allocatorCancel()
		s.allocatorCancel = nil
	}
	s.active = ""
	s.logger.Info().Msg("Browser session closed")
	return nil
}

// run executes actions in the active window, bounded by timeout and by ctx
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	t, ok := s.tabs[s.active]
	if !ok {
		return fmt.Errorf("no active window")
	}

	runCtx, cancel := s.derive(ctx, t.ctx, timeout)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// derive returns a child of chromedp context base that also ends when ctx ends
func (s *ChromeSession) derive(ctx context.Context, base context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var derived context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		derived, cancel = context.WithTimeout(base, timeout)
	} else {
		derived, cancel = context.WithCancel(base)
	}

	stop := context.AfterFunc(ctx, cancel)
	return derived, func() {
		stop()
		cancel()
	}
}
