package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", "json", &buf)

	Get().Debug("poll finished", "kind", "pgsql", "platform_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "poll finished", line["msg"])
	assert.Equal(t, "pgsql", line["kind"])
}

func TestInitTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init("warn", "text", &buf)

	Get().Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel(slog.LevelInfo)
	Get().Info("shown")
	assert.Contains(t, buf.String(), "shown")
}
