package kafka

import "time"

type Config struct {
	Brokers   []string
	Topics    []string
	GroupID   string
	StartFrom string // oldest|newest (default newest)
	Version   string
	TLSEn     bool
	SASLUser  string
	SASLPass  string

	// CommitInt is how often marked offsets are flushed to the broker.
	CommitInt time.Duration
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.CommitInt == 0 {
		c.CommitInt = 5 * time.Second
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
}
