package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type heartbeatEvent struct {
	At time.Time
}

type heartbeatRecorder struct {
	mu     sync.Mutex
	events []heartbeatEvent
}

func (r *heartbeatRecorder) OnHeartbeatEvent(e heartbeatEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *heartbeatRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestCronPublisherPostsOnSchedule(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))
	recorder := &heartbeatRecorder{}
	require.NoError(t, bus.Register(recorder))

	publisher := NewCronPublisher(bus)
	_, err := publisher.Schedule("@every 1s", func() any {
		return heartbeatEvent{At: time.Now()}
	})
	require.NoError(t, err)

	publisher.Start()
	t.Cleanup(publisher.Stop)

	require.Eventually(t, func() bool {
		return recorder.count() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCronPublisherSkipsNilEvents(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))
	recorder := &heartbeatRecorder{}
	require.NoError(t, bus.Register(recorder))

	publisher := NewCronPublisher(bus)
	_, err := publisher.Schedule("@every 1s", func() any { return nil })
	require.NoError(t, err)

	publisher.Start()
	t.Cleanup(publisher.Stop)

	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, recorder.count())
}

func TestCronPublisherRejectsBadSchedule(t *testing.T) {
	bus := newTestBus(t)
	publisher := NewCronPublisher(bus)
	_, err := publisher.Schedule("definitely not cron", func() any { return heartbeatEvent{} })
	assert.Error(t, err)
}

func TestCronPublisherStickySchedule(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))

	publisher := NewCronPublisher(bus)
	_, err := publisher.ScheduleSticky("@every 1s", func() any {
		return heartbeatEvent{At: time.Now()}
	})
	require.NoError(t, err)

	publisher.Start()
	t.Cleanup(publisher.Stop)

	require.Eventually(t, func() bool {
		_, ok := StickyEvent[heartbeatEvent](bus)
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCronPublisherRemove(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))
	recorder := &heartbeatRecorder{}
	require.NoError(t, bus.Register(recorder))

	publisher := NewCronPublisher(bus)
	id, err := publisher.Schedule("@every 1s", func() any { return heartbeatEvent{} })
	require.NoError(t, err)
	publisher.Remove(id)

	publisher.Start()
	t.Cleanup(publisher.Stop)

	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, recorder.count())
}
