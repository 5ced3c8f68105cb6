package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultConfigProfiles(t *testing.T) {
	rt := DefaultConfig(ProfileRuntime)
	require.Equal(t, zerolog.InfoLevel, rt.Level)
	require.True(t, rt.Timestamp)

	tc := DefaultConfig(ProfileTest)
	require.Equal(t, zerolog.DebugLevel, tc.Level)
	require.False(t, tc.Timestamp)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg, envMap(map[string]string{
		EnvLogLevel:     "WARN",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
		EnvLogJSON:      "true",
	}))
	require.Equal(t, Config{Level: zerolog.WarnLevel, NoColor: true, JSON: true}, cfg)
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg, envMap(map[string]string{
		EnvLogLevel:     "loud",
		EnvLogTimestamp: "sometimes",
	}))
	require.Equal(t, DefaultConfig(ProfileRuntime), cfg)
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, JSON: true}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("peer", "127.0.0.1:3002").Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "connected", entry["message"])
	require.Equal(t, "127.0.0.1:3002", entry["peer"])
	require.NotContains(t, entry, "time")
}

func TestNewConsoleOmitsTimestampWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.DebugLevel, NoColor: true}, &buf)
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), "INF hello")
}

func TestFromEnvTagsApp(t *testing.T) {
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogLevel, "debug")

	var buf bytes.Buffer
	logger := FromEnv(ProfileRuntime, &buf)
	logger.Debug().Msg("probe")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "quatstream", entry["app"])
	require.Equal(t, "debug", entry["level"])
	require.Contains(t, entry, "time")
}
