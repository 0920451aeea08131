// Package browsertest provides a scripted BrowserDriver for tests that must
// run without Chrome.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/browser"
)

// Script describes how the fake portal behaves
type Script struct {
	// Missing selectors never appear; waits on them fail with ErrElementNotFound
	Missing map[string]bool
	// Disabled selectors are visible but never become enabled
	Disabled map[string]bool
	// Texts maps a selector to the text ExtractText returns
	Texts map[string]string
	// EvaluateResult is written to *bool outputs of Evaluate
	EvaluateResult bool
	NavigateErr    error
	CaptureErr     error
	State          *models.SessionState
}

// Driver records every call and answers from its Script
type Driver struct {
	mu     sync.Mutex
	script Script
	calls  []string
	typed  []string
	shots  []string
	closed bool
}

// NewDriver creates a scripted driver
func NewDriver(script Script) *Driver {
	return &Driver{script: script}
}

func (d *Driver) record(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *Driver) element(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.script.Missing[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.record("navigate %s", url)
	if d.script.NavigateErr != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigation, d.script.NavigateErr)
	}
	return ctx.Err()
}

func (d *Driver) WaitAndClick(ctx context.Context, selector string, timeout time.Duration) error {
	d.record("click %s", selector)
	if err := d.element(ctx, selector); err != nil {
		return err
	}
	if d.script.Disabled[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

func (d *Driver) WaitAndFill(ctx context.Context, selector, value string, timeout time.Duration) error {
	d.record("fill %s %q", selector, value)
	return d.element(ctx, selector)
}

func (d *Driver) TypeKeys(ctx context.Context, text string, perKeyDelay time.Duration) error {
	d.record("type %s", text)
	d.mu.Lock()
	d.typed = append(d.typed, text)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *Driver) WaitForVisible(ctx context.Context, selector string, timeout time.Duration) error {
	d.record("visible %s", selector)
	return d.element(ctx, selector)
}

func (d *Driver) WaitForEnabled(ctx context.Context, selector string, timeout time.Duration) error {
	d.record("enabled %s", selector)
	if err := d.element(ctx, selector); err != nil {
		return err
	}
	if d.script.Disabled[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

func (d *Driver) ExtractText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	d.record("text %s", selector)
	if err := d.element(ctx, selector); err != nil {
		return "", err
	}
	text, ok := d.script.Texts[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return text, nil
}

func (d *Driver) Evaluate(ctx context.Context, script string, out interface{}) error {
	d.record("evaluate")
	if b, ok := out.(*bool); ok {
		*b = d.script.EvaluateResult
	}
	return ctx.Err()
}

func (d *Driver) CaptureStorageState(ctx context.Context) (*models.SessionState, error) {
	d.record("capture")
	if d.script.CaptureErr != nil {
		return nil, d.script.CaptureErr
	}
	if d.script.State != nil {
		return d.script.State, nil
	}
	return &models.SessionState{
		Cookies: []models.Cookie{{Name: "sid", Value: "session-cookie", Domain: "portal.test", Path: "/", Expires: -1}},
		Origins: []models.OriginStorage{{Origin: "https://portal.test", LocalStorage: []models.StorageEntry{}}},
	}, nil
}

func (d *Driver) Screenshot(ctx context.Context, label string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots = append(d.shots, label)
	return "", nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Calls returns the recorded call log
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Typed returns every TypeKeys payload in order
func (d *Driver) Typed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.typed...)
}

// Screenshots returns the labels of captured screenshots
func (d *Driver) Screenshots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.shots...)
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Factory hands out scripted drivers and remembers them
type Factory struct {
	// LaunchErr fails every NewDriver call when set
	LaunchErr error

	mu      sync.Mutex
	script  Script
	drivers []*Driver
}

// NewFactory creates a factory whose drivers all follow script
func NewFactory(script Script) *Factory {
	return &Factory{script: script}
}

func (f *Factory) NewDriver(ctx context.Context, deviceID string) (interfaces.BrowserDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LaunchErr != nil {
		return nil, f.LaunchErr
	}
	d := NewDriver(f.script)
	f.drivers = append(f.drivers, d)
	return d, nil
}

// Drivers returns every driver created so far
func (f *Factory) Drivers() []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Driver(nil), f.drivers...)
}
