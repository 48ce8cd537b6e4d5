package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestAuditReceivesWarnings(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l := New(Options{
		Level:     "debug",
		File:      filepath.Join(dir, "poold.log"),
		AuditFile: filepath.Join(dir, "audit.log"),
		JSON:      true,
		Console:   &console,
		MaxSizeMB: 1,
	})

	l.Log.Info().Msg("routine")
	l.Log.Warn().Msg("suspicious")
	l.Audit.Info().Str("op", "pause").Msg("admin action")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "routine")
	assert.Contains(t, console.String(), "suspicious")

	main, err := os.ReadFile(filepath.Join(dir, "poold.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "routine")

	audit, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(audit), "routine")
	assert.Contains(t, string(audit), "suspicious")
	assert.Contains(t, string(audit), "admin action")
}

func TestLevelFilters(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Level: "error", JSON: true, Console: &console})
	l.Log.Warn().Msg("hidden")
	l.Log.Error().Msg("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}
