package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/models"
)

// screenshotTimeout bounds a debug capture so it never stalls a failing run
const screenshotTimeout = 10 * time.Second

// Driver implements interfaces.BrowserDriver over one chromedp browser context
type Driver struct {
	ctx        context.Context
	cancel     func()
	deviceID   string
	debugDir   string
	slowMotion time.Duration
	logger     arbor.ILogger
	closeOnce  sync.Once
}

// IsXPath reports whether a selector is XPath rather than CSS
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

func queryOption(selector string) chromedp.QueryOption {
	if IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// run executes actions bounded by timeout and by the caller's ctx
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := d.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil && d.slowMotion > 0 {
		err = sleep(ctx, d.slowMotion)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// elementError maps an expired wait to ErrElementNotFound
func elementError(selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return fmt.Errorf("%s: %w", selector, err)
}

func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	d.logger.Debug().Str("device_id", d.deviceID).Str("url", url).Msg("Navigated")
	return nil
}

func (d *Driver) WaitAndClick(ctx context.Context, selector string, timeout time.Duration) error {
	by := queryOption(selector)
	return elementError(selector, d.run(ctx, timeout,
		chromedp.WaitVisible(selector, by),
		chromedp.Click(selector, by, chromedp.NodeVisible),
	))
}

func (d *Driver) WaitAndFill(ctx context.Context, selector, value string, timeout time.Duration) error {
	by := queryOption(selector)
	return elementError(selector, d.run(ctx, timeout,
		chromedp.WaitVisible(selector, by),
		chromedp.Clear(selector, by),
		chromedp.SendKeys(selector, value, by),
	))
}

// TypeKeys presses one key per character on the focused element. Real
// keydown/keyup events let split OTP inputs advance focus box to box.
func (d *Driver) TypeKeys(ctx context.Context, text string, perKeyDelay time.Duration) error {
	for i, key := range keyStrokes(text) {
		if i > 0 && perKeyDelay > 0 {
			if err := sleep(ctx, perKeyDelay); err != nil {
				return err
			}
		}
		if err := d.run(ctx, 0, chromedp.KeyEvent(key)); err != nil {
			return fmt.Errorf("failed to type key: %w", err)
		}
	}
	return nil
}

// keyStrokes splits text into single-character key presses
func keyStrokes(text string) []string {
	keys := make([]string, 0, len(text))
	for _, r := range text {
		keys = append(keys, string(r))
	}
	return keys
}

func (d *Driver) WaitForVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return elementError(selector, d.run(ctx, timeout, chromedp.WaitVisible(selector, queryOption(selector))))
}

func (d *Driver) WaitForEnabled(ctx context.Context, selector string, timeout time.Duration) error {
	by := queryOption(selector)
	return elementError(selector, d.run(ctx, timeout,
		chromedp.WaitVisible(selector, by),
		chromedp.WaitEnabled(selector, by),
	))
}

// ExtractText returns the visible text of the element. The markup is
// flattened with goquery, which drops comment nodes.
func (d *Driver) ExtractText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	by := queryOption(selector)
	var html string
	if err := d.run(ctx, timeout,
		chromedp.WaitVisible(selector, by),
		chromedp.OuterHTML(selector, &html, by),
	); err != nil {
		return "", elementError(selector, err)
	}
	return FlattenHTML(html)
}

// FlattenHTML collapses an HTML fragment to its whitespace-normalized text
func FlattenHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse element html: %w", err)
	}
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

func (d *Driver) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := d.run(ctx, 15*time.Second, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

const localStorageScript = `(() => {
	const entries = [];
	try {
		for (let i = 0; i < window.localStorage.length; i++) {
			const name = window.localStorage.key(i);
			entries.push({ name: name, value: window.localStorage.getItem(name) });
		}
	} catch (e) {}
	return { origin: window.location.origin, localStorage: entries };
})()`

// CaptureStorageState collects the cookies of the current page and the
// localStorage of its origin
func (d *Driver) CaptureStorageState(ctx context.Context) (*models.SessionState, error) {
	var location string
	var origin models.OriginStorage
	var cookies []*network.Cookie

	err := d.run(ctx, 30*time.Second,
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{location}).Do(ctx)
			return err
		}),
		chromedp.Evaluate(localStorageScript, &origin),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture storage state: %w", err)
	}

	state := &models.SessionState{
		Cookies: make([]models.Cookie, 0, len(cookies)),
		Origins: []models.OriginStorage{},
	}
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		state.Cookies = append(state.Cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	if origin.Origin != "" {
		if origin.LocalStorage == nil {
			origin.LocalStorage = []models.StorageEntry{}
		}
		state.Origins = append(state.Origins, origin)
	}

	d.logger.Debug().
		Str("device_id", d.deviceID).
		Int("cookies", len(state.Cookies)).
		Str("origin", origin.Origin).
		Msg("Storage state captured")

	return state, nil
}

// Screenshot writes {debugDir}/{deviceID}_{label}.png and returns the path
func (d *Driver) Screenshot(ctx context.Context, label string) (string, error) {
	var buf []byte
	if err := d.run(ctx, screenshotTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}

	if err := os.MkdirAll(d.debugDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug directory: %w", err)
	}

	path := filepath.Join(d.debugDir, ScreenshotName(d.deviceID, label))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}

	d.logger.Debug().Str("path", path).Msg("Screenshot saved")
	return path, nil
}

// ScreenshotName is the file name used for a device screenshot
func ScreenshotName(deviceID, label string) string {
	return fmt.Sprintf("%s_%s.png", deviceID, label)
}

// Close terminates the browser process. Safe to call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.logger.Debug().Str("device_id", d.deviceID).Msg("Browser closed")
	})
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
