package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "info", "").Info("case registered", "case_id", "c1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "case registered", line["msg"])
		assert.Equal(t, "mortuary", line["service"])
		assert.Equal(t, "c1", line["case_id"])
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "info", "TEXT").Info("slot assigned")
		assert.Contains(t, buf.String(), "msg=\"slot assigned\"")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "warn", "json").Info("dropped")
		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
