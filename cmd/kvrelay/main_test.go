package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"kvrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLogLevel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		verbose    bool
		want       logrus.Level
	}{
		{"info", "info", false, logrus.InfoLevel},
		{"warn", "warn", false, logrus.WarnLevel},
		{"debug capped without verbose", "debug", false, logrus.InfoLevel},
		{"verbose wins", "error", true, logrus.DebugLevel},
		{"invalid falls back", "loud", false, logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(&bytes.Buffer{})
			applyLogLevel(logger, tt.configured, tt.verbose)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, "", resolveConfigPath(defaultConfigPath, false))
	assert.Equal(t, defaultConfigPath, resolveConfigPath(defaultConfigPath, true))
	assert.Equal(t, "custom.json", resolveConfigPath("custom.json", false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte(`{}`), 0600))
	assert.Equal(t, defaultConfigPath, resolveConfigPath(defaultConfigPath, false))
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := &models.Config{Store: models.StoreConfig{Backend: "memory"}}

	warnings := &warnHook{}
	logger := testLogger()
	logger.AddHook(warnings)

	store, err := openStore(testContext(t), cfg, logger)
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	require.Len(t, warnings.messages, 1)
	assert.Contains(t, warnings.messages[0], "lost on restart")
}

func TestOpenStore_SQLiteDoesNotWarn(t *testing.T) {
	cfg := &models.Config{
		Store: models.StoreConfig{Backend: "sqlite", SQLite: models.SQLiteConfig{Path: filepath.Join(t.TempDir(), "relay.db")}},
	}

	warnings := &warnHook{}
	logger := testLogger()
	logger.AddHook(warnings)

	store, err := openStore(testContext(t), cfg, logger)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.Empty(t, warnings.messages)
}

func TestOpenStore_RetriesThenFails(t *testing.T) {
	cfg := &models.Config{
		Store: models.StoreConfig{Backend: "sqlite", SQLite: models.SQLiteConfig{Path: filepath.Join(t.TempDir(), "missing", "dir", "relay.db")}},
		Retry: models.RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 2, MaxAttempts: 3},
	}

	warnings := &warnHook{}
	logger := testLogger()
	logger.AddHook(warnings)

	_, err := openStore(testContext(t), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open sqlite store after retries")
	assert.Len(t, warnings.messages, 2)
}

// warnHook records warn entries
type warnHook struct {
	messages []string
}

func (h *warnHook) Levels() []logrus.Level { return []logrus.Level{logrus.WarnLevel} }

func (h *warnHook) Fire(entry *logrus.Entry) error {
	h.messages = append(h.messages, entry.Message)
	return nil
}

// testContext returns a context that is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
