package flash

import (
	"time"

	"github.com/retroenv/retrogolib/log"
)

// Config holds the flasher configuration.
type Config struct {
	// ProgressCallback is called during flashing to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger *log.Logger

	// PollInterval is the time between two halt checks while an algorithm function runs
	PollInterval time.Duration

	// StackSize is the stack reserved for the algorithm above its page buffer
	StackSize uint64

	// ClockFrequency is passed to the algorithm's Init function, 0 lets it keep its default
	ClockFrequency uint32

	// VerifyAfterProgram reads programmed pages back after uninit
	VerifyAfterProgram bool

	// RestoreUnwrittenBytes preserves flash contents in erased sectors that are not overwritten
	RestoreUnwrittenBytes bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		PollInterval:       time.Millisecond,
		StackSize:          0x400,
		VerifyAfterProgram: true,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithProgressCallback sets a callback function to track flashing progress.
//
// Example:
//
//	f := flash.New(link, catalog,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the flasher operations.
//
// Example:
//
//	f := flash.New(link, catalog, flash.WithLogger(logger))
func WithLogger(logger *log.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithPollInterval sets how often a running algorithm function is checked for completion.
// Default is 1ms. Non-positive values are ignored.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithStackSize sets the stack size reserved for the algorithm in target RAM.
// Default is 0x400 bytes. The size is rounded up to a multiple of 8.
//
// Example:
//
//	f := flash.New(link, catalog, flash.WithStackSize(0x800))
func WithStackSize(size uint64) Option {
	return func(c *Config) {
		if size > 0 {
			c.StackSize = alignUp(size, 8)
		}
	}
}

// WithClockFrequency sets the clock argument passed to the algorithm's Init function.
func WithClockFrequency(hz uint32) Option {
	return func(c *Config) {
		c.ClockFrequency = hz
	}
}

// WithVerifyAfterProgram enables or disables reading programmed pages back after flashing.
// Default is true.
//
// Example:
//
//	f := flash.New(link, catalog, flash.WithVerifyAfterProgram(false))
func WithVerifyAfterProgram(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterProgram = verify
	}
}

// WithRestoreUnwrittenBytes keeps the previous contents of erased sectors
// that the new data does not cover. Default is false: those bytes are left
// at the erased value.
func WithRestoreUnwrittenBytes(restore bool) Option {
	return func(c *Config) {
		c.RestoreUnwrittenBytes = restore
	}
}
