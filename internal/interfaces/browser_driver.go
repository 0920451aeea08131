package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/urbix/internal/models"
)

// BrowserDriver is an isolated browser session used by exactly one login run.
// Every wait is bounded; expiry surfaces as browser.ErrElementNotFound.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitAndClick(ctx context.Context, selector string, timeout time.Duration) error
	WaitAndFill(ctx context.Context, selector, value string, timeout time.Duration) error
	TypeKeys(ctx context.Context, text string, perKeyDelay time.Duration) error
	WaitForVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitForEnabled(ctx context.Context, selector string, timeout time.Duration) error
	ExtractText(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Evaluate(ctx context.Context, script string, out interface{}) error
	CaptureStorageState(ctx context.Context) (*models.SessionState, error)
	Screenshot(ctx context.Context, label string) (string, error)
	Close() error
}

// BrowserFactory launches a fresh driver per login run
type BrowserFactory interface {
	NewDriver(ctx context.Context, deviceID string) (BrowserDriver, error)
}
