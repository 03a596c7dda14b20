package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Debug(format string, args ...any) { c.lines = append(c.lines, "debug") }
func (c *captureLogger) Info(format string, args ...any)  { c.lines = append(c.lines, "info") }
func (c *captureLogger) Warn(format string, args ...any)  { c.lines = append(c.lines, "warn") }
func (c *captureLogger) Error(format string, args ...any) { c.lines = append(c.lines, "error") }

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("garbage"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestOrNopAndIsNil(t *testing.T) {
	assert.True(t, IsNil(nil))

	var typed *captureLogger
	assert.True(t, IsNil(typed))
	assert.False(t, IsNil(Nop()))

	nop := OrNop(nil)
	assert.NotNil(t, nop)
	nop.Info("ignored %d", 1)

	capture := &captureLogger{}
	assert.Same(t, Logger(capture), OrNop(capture))
}

func TestComponentLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelWarn)
	logger := NewComponentLogger("test")
	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept %s", "one")
	logger.Error("kept two")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "[WARN] [test] kept one")
	assert.Contains(t, out, "[ERROR] [test] kept two")
}

func TestMultiFansOutAndFlattens(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}

	logger := Multi(a, nil, Multi(b))
	logger.Info("hello")
	logger.Error("boom")

	assert.Equal(t, []string{"info", "error"}, a.lines)
	assert.Equal(t, []string{"info", "error"}, b.lines)
}

func TestMultiCollapsesTrivialCases(t *testing.T) {
	assert.Equal(t, Nop(), Multi(nil))

	single := &captureLogger{}
	assert.Same(t, Logger(single), Multi(nil, single))
}
