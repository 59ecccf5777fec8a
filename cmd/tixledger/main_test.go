package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/kirinyoku/tix-ledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateDryRun(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--dry-run"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "0001_init.sql")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	newLogger(&buf, config.LogConfig{Level: slog.LevelWarn, Format: "json"}).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, config.LogConfig{Level: slog.LevelWarn, Format: "json"}).Warn("shown")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: slog.LevelInfo, Format: "text"}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
