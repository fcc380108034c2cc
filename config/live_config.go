package config

import (
	"fmt"
	"sync"
	"time"
)

// ConfigObserver is an interface for components that need to be notified
// of config changes.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe wrapper around Config that supports
// runtime updates (monitor thresholds, poll interval, enablement).
type LiveConfig struct {
	mu        sync.RWMutex
	config    *Config
	observers []ConfigObserver
	obsMu     sync.RWMutex

	lastUpdated time.Time
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		observers:   make([]ConfigObserver, 0),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config. Safe for concurrent use.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update atomically replaces the config after validation and notifies
// all observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	if result := newConfig.Validate(); !result.Valid {
		return fmt.Errorf("config validation failed: %d error(s), first: %s %s",
			len(result.Errors), result.Errors[0].Field, result.Errors[0].Message)
	}

	lc.mu.Lock()
	lc.config = newConfig.Clone()
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	lc.notifyObservers(newConfig)
	return nil
}

// AddObserver registers a component for config change notifications.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// LastUpdated returns when the config was last replaced.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	defer lc.obsMu.RUnlock()
	for _, obs := range lc.observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}
