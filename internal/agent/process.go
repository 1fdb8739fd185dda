package agent

import "sync"

// The process configuration is the single configuration shared by call sites
// that are not handed an Agent, such as the CLI's local route printer. Library
// code must take a Config or an *Agent instead of reading it.
var process struct {
	mu  sync.RWMutex
	cfg *Config
}

// SetProcessConfig installs cfg as the process configuration.
func SetProcessConfig(cfg Config) {
	c := cloneConfig(cfg)
	process.mu.Lock()
	process.cfg = &c
	process.mu.Unlock()
}

// ProcessConfig returns a copy of the process configuration and whether one
// was set.
func ProcessConfig() (Config, bool) {
	process.mu.RLock()
	defer process.mu.RUnlock()
	if process.cfg == nil {
		return Config{}, false
	}
	return cloneConfig(*process.cfg), true
}

// ResetProcessConfig clears the process configuration.
func ResetProcessConfig() {
	process.mu.Lock()
	process.cfg = nil
	process.mu.Unlock()
}
