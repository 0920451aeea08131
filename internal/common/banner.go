package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective setup
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Urbix", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("relay", config.Relay.Backend).
		Int("workers", config.Queue.Concurrency).
		Bool("headless", config.Browser.Headless).
		Msg("Urbix starting")
}
