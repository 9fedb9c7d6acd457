package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/testutil"
)

func writeGrid(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAppRunPrintsSummary(t *testing.T) {
	path := writeGrid(t, `
function "seed" {}
function "report" {}

event "tick" {
  once = true
}

connection {
  from       = ["seed", "tick"]
  transition = "{ to = [[from[0], from[1]]] }"
  to         = ["report"]
}
`)

	cfg, err := NewConfig(Config{GridPath: path, LogFormat: "text", LogLevel: "debug"})
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	out := &testutil.SafeBuffer{}
	require.NoError(t, NewApp(cfg, logs, out).Run(context.Background(), cfg))

	assert.Contains(t, out.String(), "functions: report, seed")
	assert.Contains(t, out.String(), "events: tick")
	assert.Contains(t, out.String(), "roots: seed")
	assert.Contains(t, out.String(), "connection 0: [seed, tick] -> [report]")
	assert.Contains(t, logs.String(), "Grid is valid.")
}

func TestAppLogsJSONFormat(t *testing.T) {
	path := writeGrid(t, `function "seed" {}`)

	cfg, err := NewConfig(Config{GridPath: path, LogFormat: "json", LogLevel: "info"})
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	require.NoError(t, NewApp(cfg, logs, &testutil.SafeBuffer{}).Run(context.Background(), cfg))
	assert.Contains(t, logs.String(), `"msg":"Grid is valid."`)
}

func TestAppRunRejectsInvalidGrid(t *testing.T) {
	path := writeGrid(t, `
function "seed" {}

connection {
  from = ["ghost"]
  to   = []
}
`)

	cfg, err := NewConfig(Config{GridPath: path, LogFormat: "text", LogLevel: "info"})
	require.NoError(t, err)

	err = NewApp(cfg, &testutil.SafeBuffer{}, &testutil.SafeBuffer{}).Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid validation failed")
}

func TestAppRunMissingPath(t *testing.T) {
	cfg, err := NewConfig(Config{GridPath: filepath.Join(t.TempDir(), "absent.hcl"), LogFormat: "text", LogLevel: "info"})
	require.NoError(t, err)

	err = NewApp(cfg, &testutil.SafeBuffer{}, &testutil.SafeBuffer{}).Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load grid")
}

func TestNewConfigRequiresGridPath(t *testing.T) {
	_, err := NewConfig(Config{})
	require.Error(t, err)
}
