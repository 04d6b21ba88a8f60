package demoserver

// Config holds configuration for the demo engine.
type Config struct {
	// Port is the port on which the demo engine listens.
	Port int

	// Version is reported by core/view/version.
	Version string

	// APIKey, when set, must accompany every request.
	APIKey string

	// SpiderStep and ScanStep are the percentage points a spider or active
	// scan advances each time its status is polled.
	SpiderStep int
	ScanStep   int

	// StallSpiderAt caps spider progress so it never completes. Zero
	// disables the stall.
	StallSpiderAt int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:       9999,
		Version:    "2.15.0",
		SpiderStep: 25,
		ScanStep:   20,
	}
}
