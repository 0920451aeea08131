package login

import (
	"time"

	"github.com/ternarybob/urbix/internal/common"
)

// Timings holds every wait and settle delay of the flow
type Timings struct {
	PageLoad        time.Duration
	Element         time.Duration
	OTPWait         time.Duration
	ConsentDelay    time.Duration
	ConsentClick    time.Duration
	PhoneKeyDelay   time.Duration
	PhoneSettle     time.Duration
	AfterSendOTP    time.Duration
	ErrorCheck      time.Duration
	OTPInputWait    time.Duration
	OTPFocusSettle  time.Duration
	OTPKeyDelay     time.Duration
	OTPSettle       time.Duration
	ConfirmWait     time.Duration
	AfterConfirm    time.Duration
	BalancePrimary  time.Duration
	BalanceFallback time.Duration
}

// DefaultTimings returns the delays the operator portals were tuned with
func DefaultTimings() Timings {
	return Timings{
		PageLoad:        60 * time.Second,
		Element:         15 * time.Second,
		OTPWait:         5 * time.Minute,
		ConsentDelay:    2 * time.Second,
		ConsentClick:    5 * time.Second,
		PhoneKeyDelay:   50 * time.Millisecond,
		PhoneSettle:     time.Second,
		AfterSendOTP:    3 * time.Second,
		ErrorCheck:      time.Second,
		OTPInputWait:    15 * time.Second,
		OTPFocusSettle:  800 * time.Millisecond,
		OTPKeyDelay:     250 * time.Millisecond,
		OTPSettle:       1500 * time.Millisecond,
		ConfirmWait:     10 * time.Second,
		AfterConfirm:    3 * time.Second,
		BalancePrimary:  60 * time.Second,
		BalanceFallback: 10 * time.Second,
	}
}

// TimingsFromConfig applies the configurable timeouts over the defaults
func TimingsFromConfig(config *common.LoginConfig) Timings {
	t := DefaultTimings()
	t.PageLoad = common.ParseDurationOr(config.PageLoadTimeout, t.PageLoad)
	t.Element = common.ParseDurationOr(config.ElementTimeout, t.Element)
	t.OTPWait = common.ParseDurationOr(config.OTPTimeout, t.OTPWait)
	return t
}
