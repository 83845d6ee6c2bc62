package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

const (
	testHomeURL   = "https://mopsov.twse.com.tw/mops/web/index"
	testReportURL = "https://mopsov.twse.com.tw/mops/web/ajax_t164sb04"
	testAdURL     = "https://ads.example.com/popup"
)

type fakeWindow struct {
	handle interfaces.WindowHandle
	url    string
}

// fakeBrowser simulates a tabbed browser: windows with URLs, one active window,
// and selectors that can be made missing or unclickable.
type fakeBrowser struct {
	mu sync.Mutex

	windows []fakeWindow
	active  interfaces.WindowHandle
	nextID  int

	calls   []string
	typed   []string
	scripts [][]interface{}
	closes  []interfaces.WindowHandle

	missing     map[string]bool
	unclickable map[string]bool
	texts       map[string]string
	pages       map[string]string
	readyState  string

	// onScript runs inside ExecuteScript; a non-nil return is the script error
	onScript func(f *fakeBrowser, args []interface{}) error
	navErr   error
	closed   bool
}

func newFakeBrowser() *fakeBrowser {
	f := &fakeBrowser{
		missing:     map[string]bool{},
		unclickable: map[string]bool{},
		texts:       map[string]string{},
		pages:       map[string]string{},
		readyState:  "complete",
	}
	f.active = f.openWindowLocked("about:blank")
	return f
}

// OpenWindow adds a window without activating it, like a form submitted to _blank
func (f *fakeBrowser) OpenWindow(url string) interfaces.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openWindowLocked(url)
}

func (f *fakeBrowser) openWindowLocked(url string) interfaces.WindowHandle {
	f.nextID++
	h := interfaces.WindowHandle(fmt.Sprintf("win-%d", f.nextID))
	f.windows = append(f.windows, fakeWindow{handle: h, url: url})
	return h
}

// SetURL changes the location of an existing window
func (f *fakeBrowser) SetURL(h interfaces.WindowHandle, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.windows {
		if f.windows[i].handle == h {
			f.windows[i].url = url
		}
	}
}

func (f *fakeBrowser) Handles() []interfaces.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlesLocked()
}

func (f *fakeBrowser) handlesLocked() []interfaces.WindowHandle {
	handles := make([]interfaces.WindowHandle, len(f.windows))
	for i, w := range f.windows {
		handles[i] = w.handle
	}
	return handles
}

func (f *fakeBrowser) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBrowser) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeBrowser) find(h interfaces.WindowHandle) (int, bool) {
	for i, w := range f.windows {
		if w.handle == h {
			return i, true
		}
	}
	return -1, false
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) (interfaces.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Navigate")
	if f.navErr != nil {
		return "", f.navErr
	}
	i, ok := f.find(f.active)
	if !ok {
		return "", errors.New("no active window")
	}
	f.windows[i].url = url
	return f.active, nil
}

func (f *fakeBrowser) FindElement(ctx context.Context, selector string, wait time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindElement")
	if f.missing[selector] {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (f *fakeBrowser) WaitClickable(ctx context.Context, selector string, wait time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WaitClickable")
	if f.missing[selector] || f.unclickable[selector] {
		return fmt.Errorf("element %s not clickable", selector)
	}
	return nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Click")
	return nil
}

func (f *fakeBrowser) Clear(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Clear")
	return nil
}

func (f *fakeBrowser) TypeText(ctx context.Context, selector string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TypeText")
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeBrowser) Text(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Text")
	text, ok := f.texts[selector]
	if !ok {
		return "", fmt.Errorf("no text for %s", selector)
	}
	return text, nil
}

func (f *fakeBrowser) ExecuteScript(ctx context.Context, script string, args ...interface{}) error {
	f.mu.Lock()
	f.record("ExecuteScript")
	f.scripts = append(f.scripts, args)
	hook := f.onScript
	f.mu.Unlock()

	if hook != nil {
		return hook(f, args)
	}
	return nil
}

func (f *fakeBrowser) WindowHandles(ctx context.Context) ([]interfaces.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WindowHandles")
	return f.handlesLocked(), nil
}

func (f *fakeBrowser) SwitchWindow(ctx context.Context, h interfaces.WindowHandle) (interfaces.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SwitchWindow")
	if _, ok := f.find(h); !ok {
		return "", fmt.Errorf("no such window %s", h)
	}
	f.active = h
	return h, nil
}

func (f *fakeBrowser) ActiveWindow() interfaces.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeBrowser) CloseWindow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CloseWindow")
	i, ok := f.find(f.active)
	if !ok {
		return errors.New("no active window")
	}
	f.closes = append(f.closes, f.active)
	f.windows = append(f.windows[:i], f.windows[i+1:]...)
	f.active = ""
	return nil
}

func (f *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CurrentURL")
	i, ok := f.find(f.active)
	if !ok {
		return "", errors.New("no active window")
	}
	return f.windows[i].url, nil
}

func (f *fakeBrowser) ReadyState(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ReadyState")
	return f.readyState, nil
}

func (f *fakeBrowser) PageHTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PageHTML")
	i, ok := f.find(f.active)
	if !ok {
		return "", errors.New("no active window")
	}
	return f.pages[f.windows[i].url], nil
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ interfaces.RemoteControl = (*fakeBrowser)(nil)

// fakeClock advances instantly and records every sleep
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(d time.Duration)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return nil
}

// Slept returns the recorded sleeps equal to d
func (c *fakeClock) Slept(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// stubExtractor maps page HTML to canned extraction results
type stubExtractor struct {
	info       map[string]models.CompanyInfo
	financials map[string]models.Financials
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{
		info:       map[string]models.CompanyInfo{},
		financials: map[string]models.Financials{},
	}
}

func (s *stubExtractor) CompanyInfo(html string) (models.CompanyInfo, bool) {
	info, ok := s.info[html]
	return info, ok
}

func (s *stubExtractor) Financials(html string) models.Financials {
	return s.financials[html]
}

var _ interfaces.Extractor = (*stubExtractor)(nil)

// reportOpener returns a script hook that opens the report window for the submitted code.
// Codes listed in noReport open nothing.
func reportOpener(noReport ...string) func(f *fakeBrowser, args []interface{}) error {
	skip := map[string]bool{}
	for _, c := range noReport {
		skip[c] = true
	}
	return func(f *fakeBrowser, args []interface{}) error {
		code, _ := args[0].(string)
		if skip[code] {
			return nil
		}
		f.OpenWindow(reportURLFor(code))
		return nil
	}
}

func reportURLFor(code string) string {
	return testReportURL + "?co_id=" + strings.TrimSpace(code)
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Backoff: BackoffLinear}
}

const testWindowPoll = 1500 * time.Millisecond

// harness wires a real workflow over the fake browser and clock
type harness struct {
	browser   *fakeBrowser
	clock     *fakeClock
	extractor *stubExtractor
	logger    arbor.ILogger
	executor  *RetryExecutor
	windows   *WindowManager
	home      *HomeGuard
	workflow  *Workflow
}

func newHarness() *harness {
	logger := arbor.NewLogger()
	b := newFakeBrowser()
	c := newFakeClock()
	ex := newStubExtractor()

	b.pages[testHomeURL] = "home"
	b.onScript = reportOpener()
	ex.info["home"] = models.CompanyInfo{Name: "台積電", Code: "2330", Industry: "半導體業"}

	executor := NewRetryExecutor(c, logger)
	windows := NewWindowManager(b, c, logger, testWindowPoll, 3)
	home := NewHomeGuard(b, c, logger, HomeConfig{
		URL:           testHomeURL,
		IsHome:        URLContains("mops/web/index"),
		ReadySelector: "#keyword",
		ReadyTimeout:  10 * time.Second,
		PollInterval:  500 * time.Millisecond,
		Settle:        2 * time.Second,
	})
	workflow := NewWorkflow(b, windows, ex, executor, testPolicy(), home, c, logger, NewWorkflowConfig())

	return &harness{
		browser:   b,
		clock:     c,
		extractor: ex,
		logger:    logger,
		executor:  executor,
		windows:   windows,
		home:      home,
		workflow:  workflow,
	}
}

// start opens the home page and fixes the main window
func (h *harness) start(t *testing.T) SessionState {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.home.Open(ctx))
	state, err := h.windows.Establish(ctx)
	require.NoError(t, err)
	require.True(t, state.SingleWindow())
	return state
}

// withReport makes the report page for code carry financials
func (h *harness) withReport(code string, f models.Financials) {
	html := "report-" + code
	h.browser.pages[reportURLFor(code)] = html
	h.extractor.financials[html] = f
}
