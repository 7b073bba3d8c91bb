package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/code-fader/internal/types"
)

func TestParsePosition(t *testing.T) {
	n, err := parsePosition("LINE", "12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	for _, bad := range []string{"0", "-3", "x"} {
		_, err := parsePosition("LINE", bad)
		assert.Error(t, err, bad)
	}
}

func TestKeptLinesAreOneBased(t *testing.T) {
	got := keptLines([]types.LineInterval{{Start: 0, End: 1}, {Start: 4, End: 4}})
	assert.Equal(t, []int{1, 2, 5}, got)
	assert.Equal(t, []int{}, keptLines(nil))
	assert.Equal(t, []int{3, 4}, oneBased([]int{2, 3}))
}

func TestPrintResolve(t *testing.T) {
	out := resolveOutput{File: "/src/a.go", Selection: "value", Case: "declaration", Kept: []int{2, 3}}

	var buf bytes.Buffer
	formatJSON = false
	require.NoError(t, printResolve(&buf, out))
	assert.Equal(t, "selection: value\ncase:      declaration\nkept:      2,3\nfaded:     -\n", buf.String())

	buf.Reset()
	formatJSON = true
	defer func() { formatJSON = false }()
	require.NoError(t, printResolve(&buf, out))
	var decoded resolveOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, out, decoded)
}

func TestCacheStatsWithMemoryStore(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--memory-store",
		"cache", "stats",
	})
	defer func() {
		memoryStore = false
		configPath = ""
		rootCmd.SetArgs(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "symbol maps: 0")
	assert.Contains(t, buf.String(), "file mtimes: 0")
}

func TestResolveRejectsBadArgs(t *testing.T) {
	rootCmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"resolve", "main.go", "zero", "1",
	})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINE must be a positive integer")
}
