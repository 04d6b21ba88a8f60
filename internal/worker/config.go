package worker

// Config holds configuration for the worker pool.
type Config struct {
	// Workers is the number of concurrent slots.
	Workers int
	// QueueWarn logs a warning whenever the queue grows past this depth.
	// Zero disables the warning.
	QueueWarn int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueWarn: 100,
	}
}
