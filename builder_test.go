package eventbus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDefaults(t *testing.T) {
	bus, err := New()
	require.NoError(t, err)
	require.NotNil(t, bus)

	assert.True(t, bus.eventInheritance)
	assert.True(t, bus.logSubscriberExceptions)
	assert.True(t, bus.logNoSubscriberEvents)
	assert.True(t, bus.sendSubscriberExceptionEvent)
	assert.True(t, bus.sendNoSubscriberEvent)
	assert.False(t, bus.throwSubscriberException)
	assert.Nil(t, bus.mainThread)
	assert.Equal(t, defaultMainThreadSlice, bus.mainDispatcher.slice)
	assert.Equal(t, defaultBackgroundPollTimeout, bus.backgroundDispatcher.pollTimeout)
}

func TestNewWithOptions(t *testing.T) {
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})))
	loop := NewRunLoopMainThread(4)

	bus, err := New(
		WithLogger(logger),
		WithMainThreadSupport(loop),
		WithEventInheritance(false),
		WithMainThreadSlice(25*time.Millisecond),
		WithBackgroundPollTimeout(250*time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, logger, bus.logger)
	assert.Equal(t, loop, bus.mainThread)
	assert.False(t, bus.eventInheritance)
	assert.Equal(t, 25*time.Millisecond, bus.mainDispatcher.slice)
	assert.Equal(t, 250*time.Millisecond, bus.backgroundDispatcher.pollTimeout)
}

func TestWithNilLoggerFails(t *testing.T) {
	_, err := New(WithLogger(nil))
	assert.ErrorIs(t, err, ErrLoggerNil)
}

func TestBuilderBuildsIndependentBuses(t *testing.T) {
	builder := NewBuilder()
	first, err := builder.Build()
	require.NoError(t, err)
	second, err := builder.Build()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestDefaultBusIsLazySingleton(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	first := Default()
	second := Default()
	assert.Same(t, first, second)
}

func TestInstallDefaultOnce(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	bus, err := New()
	require.NoError(t, err)
	require.NoError(t, InstallDefault(bus))
	assert.Same(t, bus, Default())

	other, err := New()
	require.NoError(t, err)
	assert.ErrorIs(t, InstallDefault(other), ErrDefaultInstalled)
}

func TestInstallDefaultAfterLazyInitFails(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	_ = Default()
	bus, err := New()
	require.NoError(t, err)
	assert.ErrorIs(t, InstallDefault(bus), ErrDefaultInstalled)
}
