package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug"}))
	require.NoError(t, ConfigureLogging(ServerConfig{}))
	require.NoError(t, ConfigureLogging(ServerConfig{
		LogLevel: "warn",
		LogFile:  LogFileConfig{Path: filepath.Join(t.TempDir(), "kbguard.log")},
	}))
}
