// Package browser drives an isolated headless Chrome session through chromedp.
// One browser process is launched per login run and never shared.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
)

var (
	// ErrElementNotFound is returned when a bounded wait for an element expires
	ErrElementNotFound = errors.New("element not found")
	// ErrNavigation is returned when the page fails to load in time
	ErrNavigation = errors.New("navigation failed")
	// ErrLaunch is returned when Chrome cannot be started
	ErrLaunch = errors.New("browser launch failed")
)

// Launcher implements interfaces.BrowserFactory
type Launcher struct {
	config   common.BrowserConfig
	debugDir string
	logger   arbor.ILogger
}

// NewLauncher creates a launcher using the [browser] settings.
// Screenshots are written to debugDir.
func NewLauncher(config common.BrowserConfig, debugDir string, logger arbor.ILogger) *Launcher {
	return &Launcher{config: config, debugDir: debugDir, logger: logger}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", l.config.DisableGPU),
		chromedp.Flag("no-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight),
	)
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	return opts
}

// NewDriver launches a fresh browser for one device login run. The browser
// outlives ctx cancellation only until Close is called.
func (l *Launcher) NewDriver(ctx context.Context, deviceID string) (interfaces.BrowserDriver, error) {
	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	cleanup := func() {
		browserCancel()
		allocatorCancel()
	}

	// The first Run starts Chrome; it must use the browser context itself
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	launchTimeout := common.ParseDurationOr(l.config.LaunchTimeout, 30*time.Second)
	select {
	case err := <-started:
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
	case <-time.After(launchTimeout):
		cleanup()
		return nil, fmt.Errorf("%w: timed out after %s", ErrLaunch, launchTimeout)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}

	l.logger.Debug().
		Str("device_id", deviceID).
		Dur("startup_time", time.Since(startTime)).
		Bool("headless", l.config.Headless).
		Msg("Browser launched")

	return &Driver{
		ctx:        browserCtx,
		cancel:     cleanup,
		deviceID:   deviceID,
		debugDir:   l.debugDir,
		slowMotion: common.ParseDurationOr(l.config.SlowMotion, 0),
		logger:     l.logger,
	}, nil
}
