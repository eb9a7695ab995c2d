package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLazyLogger_ComponentAttr(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(&bytes.Buffer{})

	Logger("core/test").Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "component=core/test")
	assert.Contains(t, out, "key=value")
}

func TestLazyLogger_ComponentLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(&bytes.Buffer{})

	SetComponentLevel("core/quiet", slog.LevelError)
	Logger("core/quiet").Warn("suppressed")
	assert.Empty(t, buf.String())

	Logger("core/quiet").Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevelConfig(t *testing.T) {
	parseLevelConfig("core/nat=debug, warn")
	assert.Equal(t, slog.LevelDebug, levels["core/nat"])
	assert.Equal(t, slog.LevelWarn, baseLevel)

	baseLevel = slog.LevelInfo
	delete(levels, "core/nat")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "abcdefgh", TruncateID("abcdefghij", 8))
}
