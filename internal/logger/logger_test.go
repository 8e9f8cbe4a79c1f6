package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ppiankov/rankme/internal/model"
)

func TestInit_InvalidLevel(t *testing.T) {
	_, err := Init(model.LogConfig{Level: "loud"}, "test")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestBuildWriters(t *testing.T) {
	var console bytes.Buffer

	writers, err := buildWriters(model.LogConfig{Format: "json"}, &console)
	require.NoError(t, err)
	require.Len(t, writers, 1)
	assert.Same(t, &console, writers[0])

	writers, err = buildWriters(model.LogConfig{Format: "pretty"}, &console)
	require.NoError(t, err)
	require.Len(t, writers, 1)
	assert.IsType(t, zerolog.ConsoleWriter{}, writers[0])

	dir := filepath.Join(t.TempDir(), "logs")
	writers, err = buildWriters(model.LogConfig{Format: "json", FileEnabled: true, Dir: dir, MaxSizeMB: 1}, &console)
	require.NoError(t, err)
	require.Len(t, writers, 2)
	lj, ok := writers[1].(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "rankme.log"), lj.Filename)
	assert.DirExists(t, dir)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(zerolog.New(&buf), "venue")
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"venue"`)
}
