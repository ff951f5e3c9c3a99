package config

import "sync"

// The warden process holds one Config: the CLI loads it before running a
// command and builds the policy store, data store, ledger and server from its
// sections. Policy documents are not part of it and reload separately.
var (
	current   *Config
	currentMu sync.RWMutex
	loadOnce  sync.Once
)

// Initialize loads the process configuration from path (defaults only when
// path is empty), applies WARDEN_* overrides and validates it. Only the first
// call loads; later calls return nil without reading path.
func Initialize(path string) error {
	var loadErr error
	loadOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			loadErr = err
			return
		}
		SetConfig(cfg)
	})
	return loadErr
}

// GetConfig returns the process configuration, or nil before Initialize.
func GetConfig() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// MustGetConfig is GetConfig for callers that run after a successful
// Initialize. It panics otherwise.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("warden configuration not initialized: call Initialize first")
	}
	return cfg
}

// SetConfig installs cfg as the process configuration without loading a
// file. Tests use it to inject a prepared Config.
func SetConfig(cfg *Config) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = cfg
}

// Reset forgets the process configuration so the next Initialize loads again.
// Command tests call it between runs.
func Reset() {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = nil
	loadOnce = sync.Once{}
}
