package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/scanqueue/internal/logging"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func TestZerologLogger_WritesStructuredFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.NewZerologLogger(&buf, "debug", "worker")

	l.Info("job finished",
		logging.F("task_id", "scan_1"),
		logging.F("elapsed", 2*time.Second),
		logging.F("cause", errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "job finished", lines[0]["message"])
	assert.Equal(t, "worker", lines[0]["component"])
	assert.Equal(t, "scan_1", lines[0]["task_id"])
	assert.Equal(t, "2s", lines[0]["elapsed"])
	assert.Equal(t, "boom", lines[0]["cause"])
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.NewZerologLogger(&buf, "warn", "")

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestZerologLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.NewZerologLogger(&buf, "chatty", "")

	l.Debug("hidden")
	l.Info("shown")

	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestZerologLogger_WithAddsPersistentFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := logging.NewZerologLogger(&buf, "info", "coordinator").
		With(logging.F("task_id", "crawl_7"))

	l.Error("failed", logging.Err(errors.New("engine down")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "crawl_7", lines[0]["task_id"])
	assert.Equal(t, "engine down", lines[0]["error"])
}

func TestOrNop(t *testing.T) {
	t.Parallel()
	assert.IsType(t, logging.NopLogger{}, logging.OrNop(nil))

	l := logging.NewZerologLogger(&bytes.Buffer{}, "info", "")
	assert.Same(t, l, logging.OrNop(l))
}
