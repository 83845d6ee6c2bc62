// -----------------------------------------------------------------------
// Remote Control - Capability set for driving one browsing session
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"
)

// WindowHandle identifies one browsing context (window or tab) within a session
type WindowHandle string

// RemoteControl drives a single stateful browsing session.
// Element operations act on the active window and address elements by CSS selector.
type RemoteControl interface {
	// Navigate loads url in the active window and returns that window's handle
	Navigate(ctx context.Context, url string) (WindowHandle, error)

	// FindElement waits up to wait for selector to be present
	FindElement(ctx context.Context, selector string, wait time.Duration) error

	// WaitClickable waits up to wait for selector to be visible and enabled
	WaitClickable(ctx context.Context, selector string, wait time.Duration) error

	Click(ctx context.Context, selector string) error

	// Clear empties an input element
	Clear(ctx context.Context, selector string) error

	TypeText(ctx context.Context, selector string, text string) error

	// Text returns the visible text of the first element matching selector
	Text(ctx context.Context, selector string) (string, error)

	// ExecuteScript runs script as a function body; args are exposed as arguments[i]
	ExecuteScript(ctx context.Context, script string, args ...interface{}) error

	// WindowHandles lists every open page window
	WindowHandles(ctx context.Context) ([]WindowHandle, error)

	// SwitchWindow makes handle the active window and returns it
	SwitchWindow(ctx context.Context, handle WindowHandle) (WindowHandle, error)

	// ActiveWindow returns the window element operations currently act on
	ActiveWindow() WindowHandle

	// CloseWindow closes the active window. The caller must switch before acting again.
	CloseWindow(ctx context.Context) error

	CurrentURL(ctx context.Context) (string, error)

	// ReadyState returns document.readyState of the active window
	ReadyState(ctx context.Context) (string, error)

	// PageHTML returns the outer HTML of the active window's document
	PageHTML(ctx context.Context) (string, error)

	// Close releases the whole session
	Close() error
}
