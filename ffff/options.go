package ffff

import (
	"time"

	"github.com/rs/zerolog"
)

// config holds the RomImage configuration.
type config struct {
	// log receives element validation diagnostics
	log zerolog.Logger

	// timestamp is the 16-byte build timestamp written into headers
	timestamp string
}

// defaultConfig returns the default configuration: no logging and a
// timestamp taken from the wall clock.
func defaultConfig() config {
	return config{
		log:       zerolog.Nop(),
		timestamp: time.Now().UTC().Format("20060102 150405"),
	}
}

// Option is a functional option for configuring a RomImage.
type Option func(*config)

// WithLogger sets the logger that receives validation diagnostics.
// Element problems are warnings; fatal conditions are returned as
// errors, never logged.
//
// Example:
//
//	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	img, err := ffff.New(name, cap, ebs, length, gen, hs, ffff.WithLogger(log))
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithTimestamp overrides the build timestamp written into both
// headers. Longer values are truncated to the 16-byte field.
func WithTimestamp(timestamp string) Option {
	return func(c *config) {
		if len(timestamp) > TimestampLength {
			timestamp = timestamp[:TimestampLength]
		}
		c.timestamp = timestamp
	}
}
