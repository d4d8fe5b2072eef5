package pool

import (
	"fmt"
	"time"
)

// Config is the frozen-at-initialize configuration for a Pool. There is
// no file/env loader here by design; callers build one of these directly
// or via DefaultConfig.
type Config struct {
	// MaxSize is the hard concurrency cap and the permit gate's fixed
	// capacity. Must be > 0.
	MaxSize int
	// MinSize is the floor the filler maintains. Must be >= 0 and <= MaxSize.
	MinSize int
	// BlockingTimeout bounds how long GetConnection waits for a permit.
	BlockingTimeout time.Duration
	// IdleTimeout is the age at which an idle listener becomes eligible
	// for eviction. Zero disables idle removal.
	IdleTimeout time.Duration
	// BackgroundValidationInterval is the validation cadence. Zero
	// disables background validation.
	BackgroundValidationInterval time.Duration
	// Prefill enqueues one fillToMin at initialize when true.
	Prefill bool
	// StrictMin makes idle eviction stop once inventory size == MinSize.
	StrictMin bool
	// UseFastFail makes the first match failure during checkout skip the
	// rest of the inventory scan and manufacture immediately.
	UseFastFail bool
}

// DefaultConfig returns a small, conservative configuration suitable for
// tests and examples.
func DefaultConfig() Config {
	return Config{
		MaxSize:                      10,
		MinSize:                      0,
		BlockingTimeout:              30 * time.Second,
		IdleTimeout:                  5 * time.Minute,
		BackgroundValidationInterval: 0,
		Prefill:                      false,
		StrictMin:                    false,
		UseFastFail:                  false,
	}
}

func (c Config) validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("pool: MaxSize must be > 0, got %d", c.MaxSize)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("pool: MinSize must be >= 0, got %d", c.MinSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("pool: MinSize (%d) must be <= MaxSize (%d)", c.MinSize, c.MaxSize)
	}
	if c.BlockingTimeout <= 0 {
		return fmt.Errorf("pool: BlockingTimeout must be > 0, got %s", c.BlockingTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("pool: IdleTimeout must be >= 0, got %s", c.IdleTimeout)
	}
	if c.BackgroundValidationInterval < 0 {
		return fmt.Errorf("pool: BackgroundValidationInterval must be >= 0, got %s", c.BackgroundValidationInterval)
	}
	return nil
}
