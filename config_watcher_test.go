package eventbus

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type configChangeRecorder struct {
	mu     sync.Mutex
	events []ConfigChangedEvent
}

func (r *configChangeRecorder) OnConfigChangedEvent(e ConfigChangedEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *configChangeRecorder) snapshot() []ConfigChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConfigChangedEvent(nil), r.events...)
}

func TestConfigWatcherPostsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventbus.toml")
	require.NoError(t, os.WriteFile(path, []byte("eventInheritance = true\n"), 0o600))

	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))
	recorder := &configChangeRecorder{}
	require.NoError(t, bus.Register(recorder))

	watcher := NewConfigWatcher(bus, path)
	require.NoError(t, watcher.Start())
	t.Cleanup(func() { _ = watcher.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("eventInheritance = false\n"), 0o600))

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) > 0
	}, 3*time.Second, 10*time.Millisecond, "expected a ConfigChangedEvent after the file write")

	events := recorder.snapshot()
	assert.Equal(t, path, events[0].Path)
	require.NotNil(t, events[0].Config)
	assert.False(t, events[0].Config.EventInheritance)
}

func TestConfigWatcherIgnoresBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventbus.toml")
	require.NoError(t, os.WriteFile(path, []byte("eventInheritance = true\n"), 0o600))

	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))
	recorder := &configChangeRecorder{}
	require.NoError(t, bus.Register(recorder))

	watcher := NewConfigWatcher(bus, path)
	require.NoError(t, watcher.Start())
	t.Cleanup(func() { _ = watcher.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("not [valid toml\n"), 0o600))

	// A broken file must not produce an event.
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, recorder.snapshot())
}

func TestConfigWatcherStartTwiceFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventbus.toml")
	require.NoError(t, os.WriteFile(path, []byte("eventInheritance = true\n"), 0o600))

	bus := newTestBus(t)
	watcher := NewConfigWatcher(bus, path)
	require.NoError(t, watcher.Start())
	t.Cleanup(func() { _ = watcher.Stop() })

	assert.ErrorIs(t, watcher.Start(), ErrWatcherStarted)
}

func TestConfigWatcherStopWithoutStart(t *testing.T) {
	bus := newTestBus(t)
	watcher := NewConfigWatcher(bus, filepath.Join(t.TempDir(), "eventbus.toml"))
	assert.NoError(t, watcher.Stop())
}
