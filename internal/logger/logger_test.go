package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
	})

	SetLevel("warn")
	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Equal(t, LevelWarn, CurrentLevel())
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	SetLevel("ERROR")
	SetLevel("chatty")
	assert.Equal(t, LevelError, CurrentLevel())
	SetLevel("INFO")
}

func TestConfigure_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loaders.log")
	require.NoError(t, Configure("debug", "json", path))
	t.Cleanup(func() {
		require.NoError(t, Configure("INFO", "text", "stdout"))
	})

	Debug("recognized %s", "a.txt")
	WithFields(map[string]any{"folder": "/src"}).Warn("refresh skipped")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "recognized a.txt", first["msg"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "/src", second["folder"])
}

func TestConfigure_UnknownFormat(t *testing.T) {
	assert.Error(t, Configure("INFO", "xml", "stdout"))
}
