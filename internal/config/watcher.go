package config

import (
	"context"
	"os"
	"sync"
	"time"

	"kvrelay/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// ConfigWatcher polls the config file and reloads it on change. Only
// settings that are safe to change at runtime are acted on by callers;
// the log level is the main one.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
		config:     initial,
	}
}

// Start polls until ctx is done
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}
			if stat.ModTime().After(lastModTime) {
				lastModTime = stat.ModTime()
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the most recently loaded configuration
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after each successful reload
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded")
	cw.logConfigChanges(oldConfig, newConfig)

	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			callback(newConfig)
		}()
	}
}

// logConfigChanges warns about edits that only take effect on restart
func (cw *ConfigWatcher) logConfigChanges(old, updated *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != updated.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": old.LogLevel, "new": updated.LogLevel}).Info("Log level changed")
	}
	if old.Store.Backend != updated.Store.Backend {
		cw.logger.WithFields(logrus.Fields{"old": old.Store.Backend, "new": updated.Store.Backend}).Warn("Store backend change requires a restart")
	}
	if old.Server.Port != updated.Server.Port {
		cw.logger.WithFields(logrus.Fields{"old": old.Server.Port, "new": updated.Server.Port}).Warn("Server port change requires a restart")
	}
	if old.Queue != updated.Queue {
		cw.logger.Warn("Queue settings change requires a restart")
	}
}
