package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "sched"))

	log.Debug("worker spawned", Int("worker", 1), Duration("took", time.Millisecond))

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	require.Equal(t, "worker spawned", m["message"])
	require.Equal(t, "sched", m["comp"])
	require.EqualValues(t, 1, m["worker"])
	require.NotEmpty(t, m["caller"])
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("dropped")
	require.Zero(t, buf.Len())
	require.False(t, log.Enabled(LevelDebug))
	require.True(t, log.Enabled(LevelError))

	log.Warn("kept")
	require.True(t, strings.Contains(buf.String(), "kept"))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	require.True(t, l.IsZero())
	l.Error("nothing happens", Err(nil))
	require.False(t, l.With(String("k", "v")).IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	require.Equal(t, LevelTrace, ParseLevel("trace"))
	require.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	require.Equal(t, LevelInfo, ParseLevel("bogus"))
	require.Equal(t, LevelInfo, ParseLevel(""))
	require.True(t, ValidLevel(""))
	require.True(t, ValidLevel("Error"))
	require.False(t, ValidLevel("loud"))
	require.False(t, ValidLevel("panic"), "levels above error are not configurable")
}

func TestServiceApplyKeepsLoggersLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "wsched.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	comp := log.With(String("comp", "sched"))
	comp.Debug("hidden")
	comp.Info("first")

	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}))
	require.True(t, comp.Enabled(LevelDebug))
	comp.Debug("second")
	require.NoError(t, svc.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"message":"first"`)
	require.Contains(t, out, `"message":"second"`)
	require.Contains(t, out, `"comp":"sched"`)
}

func TestOptionalFieldsSkipEmptyValues(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWriter(&buf, "info").Info("x", Err(nil), Stack("  "))
	require.NotContains(t, buf.String(), "stack")
	require.NotContains(t, buf.String(), `"err"`)
}

func TestSampler(t *testing.T) {
	t.Parallel()
	var nilSampler *Sampler
	require.True(t, nilSampler.Allow())
	require.False(t, NewSampler(0, 1).Allow(), "a zero interval silences the line")

	s := NewSampler(time.Hour, 2)
	require.True(t, s.Allow())
	require.True(t, s.Allow())
	require.False(t, s.Allow())
}
