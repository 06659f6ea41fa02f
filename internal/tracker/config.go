package tracker

import "time"

// DefaultActivityTimeout is how long the user or an editor may stay silent
// before the matching activity interval is closed.
const DefaultActivityTimeout = 16 * time.Second

// Config defines the tracker configuration.
type Config struct {
	// UserTimeout closes USER_ACTIVE after this much silence.
	UserTimeout time.Duration `yaml:"user_timeout"`
	// EditorTimeout closes the open editor interval after this much silence.
	EditorTimeout time.Duration `yaml:"editor_timeout"`
	// QueueSize bounds the number of events waiting to be applied.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() *Config {
	return &Config{
		UserTimeout:   DefaultActivityTimeout,
		EditorTimeout: DefaultActivityTimeout,
		QueueSize:     1024,
	}
}
