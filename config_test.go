package eventbus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigMirrorsBuilderDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.LogSubscriberExceptions)
	assert.True(t, cfg.LogNoSubscriberEvents)
	assert.True(t, cfg.SendSubscriberExceptionEvent)
	assert.True(t, cfg.SendNoSubscriberEvent)
	assert.False(t, cfg.ThrowSubscriberException)
	assert.True(t, cfg.EventInheritance)
	assert.Equal(t, DefaultHandlerMethodPrefix, cfg.HandlerMethodPrefix)
	assert.Equal(t, 10, cfg.MainThreadSliceMillis)
	assert.Equal(t, 1000, cfg.BackgroundPollTimeoutMillis)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeTempConfig(t, "eventbus.toml", `
eventInheritance = false
handlerMethodPrefix = "Handle"
mainThreadSliceMillis = 25
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.EventInheritance)
	assert.Equal(t, "Handle", cfg.HandlerMethodPrefix)
	assert.Equal(t, 25, cfg.MainThreadSliceMillis)
	// Untouched keys keep their defaults.
	assert.True(t, cfg.LogSubscriberExceptions)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeTempConfig(t, "eventbus.yaml", `
sendNoSubscriberEvent: false
backgroundPollTimeoutMillis: 500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.SendNoSubscriberEvent)
	assert.Equal(t, 500, cfg.BackgroundPollTimeoutMillis)
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeTempConfig(t, "eventbus.json", `{"strictMethodVerification": true}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.StrictMethodVerification)
}

func TestLoadConfigUnsupportedFormat(t *testing.T) {
	path := writeTempConfig(t, "eventbus.ini", "x=1")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrUnsupportedConfigFormat)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestFeedEnvOverridesFields(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("EVENTBUS_EVENT_INHERITANCE", "false")
	t.Setenv("EVENTBUS_MAIN_THREAD_SLICE_MILLIS", "42")
	t.Setenv("EVENTBUS_HANDLER_METHOD_PREFIX", "Handle")

	require.NoError(t, cfg.FeedEnv("eventbus"))
	assert.False(t, cfg.EventInheritance)
	assert.Equal(t, 42, cfg.MainThreadSliceMillis)
	assert.Equal(t, "Handle", cfg.HandlerMethodPrefix)
}

func TestFeedEnvInvalidValue(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("EVENTBUS_MAIN_THREAD_SLICE_MILLIS", "not-a-number")
	assert.Error(t, cfg.FeedEnv("eventbus"))
}

func TestConfigOptionsApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventInheritance = false
	cfg.ThrowSubscriberException = true
	cfg.HandlerMethodPrefix = "Handle"

	bus, err := New(cfg.Options()...)
	require.NoError(t, err)
	assert.False(t, bus.eventInheritance)
	assert.True(t, bus.throwSubscriberException)
	assert.Equal(t, "Handle", bus.discovery.prefix)
}
