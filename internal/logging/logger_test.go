package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ctm.log")

	logger, closer, err := New(Config{Level: "debug", OutputFile: path, JSONFormat: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("component", "test").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"component":"test"`))
}

func TestNewRotatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctm.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0644))

	_, closer, err := New(Config{Level: "info", OutputFile: path, MaxSize: 32, MaxBackups: 2})
	require.NoError(t, err)
	defer closer.Close()

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "oversized log should be moved to .1")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logger, closer, err := New(Config{Level: "loud"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
