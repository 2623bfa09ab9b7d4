package config

import "time"

// IntervalGetter returns a duration sourced from live configuration, so a
// consumer picks up config changes without re-wiring.
type IntervalGetter func() time.Duration

// Accessor methods with default fallbacks. These provide safe access to
// configuration values when a config file leaves them unset or invalid.

// GetDebounceInterval returns the durable-write debounce interval with a default fallback.
func (c *Config) GetDebounceInterval() time.Duration {
	if c.Cache.DebounceInterval <= 0 {
		return 1 * time.Second // Default: 1 second
	}
	return c.Cache.DebounceInterval
}

// GetValidateInterval returns the periodic cache validation interval with a default fallback.
func (c *Config) GetValidateInterval() time.Duration {
	if c.Cache.ValidateInterval <= 0 {
		return 15 * time.Minute // Default: 15 minutes
	}
	return c.Cache.ValidateInterval
}

// GetAPITimeout returns the REST API timeout with a default fallback.
func (c *Config) GetAPITimeout() time.Duration {
	if c.API.Timeout <= 0 {
		return 30 * time.Second // Default: 30 seconds
	}
	return c.API.Timeout
}

// GetImageMaxTotalBytes returns the image cache disk cap in bytes with a default fallback.
func (c *Config) GetImageMaxTotalBytes() int64 {
	if c.Images.MaxTotalSizeMB <= 0 {
		return 100 * 1024 * 1024 // Default: 100 MB
	}
	return c.Images.MaxTotalSizeMB * 1024 * 1024
}

// GetImageMaxEntryAge returns the unconditional image eviction age with a default fallback.
func (c *Config) GetImageMaxEntryAge() time.Duration {
	if c.Images.MaxEntryAge <= 0 {
		return 30 * 24 * time.Hour // Default: 30 days
	}
	return c.Images.MaxEntryAge
}

// GetImageDefaultMaxAge returns the staleness threshold for cached images with a default fallback.
func (c *Config) GetImageDefaultMaxAge() time.Duration {
	if c.Images.DefaultMaxAge <= 0 {
		return 24 * time.Hour // Default: 1 day
	}
	return c.Images.DefaultMaxAge
}

// GetImageFailureCooldown returns the download failure cooldown window with a default fallback.
func (c *Config) GetImageFailureCooldown() time.Duration {
	if c.Images.FailureCooldown <= 0 {
		return 5 * time.Minute // Default: 5 minutes
	}
	return c.Images.FailureCooldown
}

// GetImageRetryAttempts returns the number of download retries after the first failure.
func (c *Config) GetImageRetryAttempts() int {
	if c.Images.RetryAttempts <= 0 {
		return 3 // Default: 3 retries
	}
	return c.Images.RetryAttempts
}

// GetImageRetryDelay returns the linear backoff unit between download retries.
func (c *Config) GetImageRetryDelay() time.Duration {
	if c.Images.RetryDelay <= 0 {
		return 500 * time.Millisecond // Default: 500ms
	}
	return c.Images.RetryDelay
}

// GetImageMemoryEntries returns the memory tier entry cap with a default fallback.
func (c *Config) GetImageMemoryEntries() int {
	if c.Images.MemoryEntries <= 0 {
		return 256 // Default: 256 entries
	}
	return c.Images.MemoryEntries
}
