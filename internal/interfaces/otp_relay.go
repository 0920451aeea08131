package interfaces

import "context"

// OTPSubscription is one listener on a device topic
type OTPSubscription interface {
	// Messages yields OTP values in arrival order
	Messages() <-chan string
	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// OTPRelay carries OTP values from live clients to blocked login workers.
// Publishing to a topic with no listener drops the value.
type OTPRelay interface {
	Publish(ctx context.Context, deviceID, otp string) error
	Subscribe(ctx context.Context, deviceID string) (OTPSubscription, error)
	Close() error
}
