package hclgrid

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow"
)

func writeGrid(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "grid.hcl", `
function "greet" {
  args   = ["hello", 2]
  throws = true
  inputs = "[args[0]]"
  output = "upper(result)"
}

function "report" {
  ref = "reporter"
}

function "mirror" {}

event "tick" {
  ref  = "clock"
  once = true
}

connection {
  from       = ["greet", "tick"]
  transition = "{ to = [[from[0], from[1]]] }"
  to         = ["report"]
}

connection {
  from = ["report"]
  to   = ["mirror"]
}
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	greet := cfg.Functions["greet"]
	assert.Equal(t, []any{"hello", 2.0}, greet.Args)
	assert.True(t, greet.Throws)
	assert.Equal(t, "[args[0]]", greet.Inputs)
	assert.Equal(t, "upper(result)", greet.Output)

	assert.Equal(t, "reporter", cfg.Functions["report"].Ref)
	assert.Equal(t, gridflow.EventSpec{Ref: "clock", Once: true}, cfg.Events["tick"])

	require.Len(t, cfg.Connections, 2)
	assert.Equal(t, []string{"greet", "tick"}, cfg.Connections[0].From)
	assert.Equal(t, []string{"report"}, cfg.Connections[0].To)
	assert.Empty(t, cfg.Connections[1].Transition, "absent transition stays the identity default")
	assert.Equal(t, []string{"mirror"}, cfg.Connections[1].To)

	// The loaded grid must satisfy structural validation as-is.
	require.NoError(t, gridflow.ValidateConfig(cfg))
}

func TestLoadEmptyArgsMarksExplicitRoot(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "grid.hcl", `
function "seed" {
  args = []
}

function "other" {}
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Functions["seed"].Args)
	assert.Empty(t, cfg.Functions["seed"].Args)
	assert.Nil(t, cfg.Functions["other"].Args)
	assert.Equal(t, []string{"seed"}, gridflow.RootNodes(cfg))
}

func TestLoadMergesDirectoryRecursively(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "a.hcl", `function "a" {}`)
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeGrid(t, sub, "b.hcl", `function "b" {}`)
	writeGrid(t, dir, "notes.txt", `ignored`)

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Functions, 2)
}

func TestLoadRejectsDuplicateDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "a.hcl", `function "dup" {}`)
	writeGrid(t, dir, "b.hcl", `function "dup" {}`)

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `function "dup" declared more than once`)
}

func TestLoadRejectsNonListArgs(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "grid.hcl", `
function "bad" {
  args = "scalar"
}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "args must be a list")
}

func TestLoadRejectsMalformedHCL(t *testing.T) {
	path := writeGrid(t, t.TempDir(), "grid.hcl", `function "broken" {`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestLoadWithoutGridFiles(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl grid files found")
}
