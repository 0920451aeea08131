package jobs

import (
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/ternarybob/urbix/internal/common"
)

// Policy controls retries and time budgets of login jobs
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	LeaseTTL    time.Duration
	TaskTimeout time.Duration
}

// DefaultPolicy is three retries at 60s, 120s and 240s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BackoffBase: 60 * time.Second,
		BackoffMax:  10 * time.Minute,
		LeaseTTL:    30 * time.Minute,
		TaskTimeout: 10 * time.Minute,
	}
}

// PolicyFromConfig reads the [login] section
func PolicyFromConfig(config *common.LoginConfig) Policy {
	p := DefaultPolicy()
	p.MaxRetries = config.MaxRetries
	p.BackoffBase = common.ParseDurationOr(config.BackoffBase, p.BackoffBase)
	p.BackoffMax = common.ParseDurationOr(config.BackoffMax, p.BackoffMax)
	p.LeaseTTL = common.ParseDurationOr(config.LeaseTTL, p.LeaseTTL)
	p.TaskTimeout = common.ParseDurationOr(config.TaskTimeout, p.TaskTimeout)
	return p
}

// RetryDelay returns the backoff before run number attempt+1, or false when
// attempt has used up the retry budget. attempt is 1-based.
func (p Policy) RetryDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || p.MaxRetries <= 0 || p.BackoffBase <= 0 {
		return 0, false
	}

	var b retry.Backoff = retry.NewExponential(p.BackoffBase)
	b = retry.WithCappedDuration(p.BackoffMax, b)
	b = retry.WithMaxRetries(uint64(p.MaxRetries), b)

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			return 0, false
		}
		delay = next
	}
	return delay, true
}
