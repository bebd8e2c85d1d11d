package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gymtrack/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = config.AppConfig{Name: "gymtrack", Environment: "test", Version: "0.1.0"}

func TestNew(t *testing.T) {
	cases := []struct {
		name      string
		cfg       config.LoggingConfig
		wantErr   bool
		wantClose bool
		wantLevel zerolog.Level
	}{
		{name: "Defaults", cfg: config.LoggingConfig{}, wantLevel: zerolog.InfoLevel},
		{name: "Stderr", cfg: config.LoggingConfig{Level: "debug", Output: "stderr"}, wantLevel: zerolog.DebugLevel},
		{name: "Console", cfg: config.LoggingConfig{Level: "WARN", Format: "console"}, wantLevel: zerolog.WarnLevel},
		{name: "BadLevelFallsBack", cfg: config.LoggingConfig{Level: "loud"}, wantLevel: zerolog.InfoLevel},
		{name: "FileWithoutPath", cfg: config.LoggingConfig{Output: "file"}, wantErr: true},
		{name: "UnknownOutput", cfg: config.LoggingConfig{Output: "syslog"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger, closer, err := New(tc.cfg, testApp)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, logger.GetLevel())
			assert.Equal(t, tc.wantClose, closer != nil)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "gymtrack.log")

	logger, closer, err := New(config.LoggingConfig{Output: "file", FilePath: logPath}, testApp)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info().Str("member_id", "m-1").Msg("member added")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "gymtrack", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "0.1.0", entry["version"])
	assert.Equal(t, "m-1", entry["member_id"])
	assert.Equal(t, "member added", entry["message"])
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	Component(&base, "offline-queue").Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"offline-queue"`)
}
