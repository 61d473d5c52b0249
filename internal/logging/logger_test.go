package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentLoggerWritesExpectedFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetMinLevel(LevelDebug)
	defer SetOutput(os.Stderr)

	logger := NewCategoryLogger("MCP", "Registry")
	logger.Info("server %s ready", "fs")

	line := buf.String()
	require.Contains(t, line, "[INFO]")
	require.Contains(t, line, "[MCP]")
	require.Contains(t, line, "[Registry]")
	require.Contains(t, line, "server fs ready")
	require.Contains(t, line, "logger_test.go:")
}

func TestSetMinLevelFiltersLowerSeverity(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetMinLevel(LevelWarn)
	defer SetOutput(os.Stderr)
	defer SetMinLevel(LevelInfo)

	logger := NewComponentLogger("Test")
	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.True(t, strings.Contains(out, "visible"))
}
