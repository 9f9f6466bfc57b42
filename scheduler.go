package eventbus

import (
	"github.com/robfig/cron/v3"
)

// EventFactory produces the event to post for one scheduled firing.
// Returning nil skips the firing.
type EventFactory func() any

// CronPublisher posts factory-produced events on cron schedules. It is a
// thin bridge between a cron runner and the bus, useful for heartbeat
// events, periodic cache sweeps and other time-driven publications.
type CronPublisher struct {
	bus    *EventBus
	cron   *cron.Cron
	logger Logger
}

// NewCronPublisher creates a publisher posting on the given bus.
// Schedules use the standard five-field cron format.
func NewCronPublisher(bus *EventBus) *CronPublisher {
	return &CronPublisher{
		bus:    bus,
		cron:   cron.New(),
		logger: bus.logger,
	}
}

// Schedule registers an event factory under a cron schedule and returns
// the entry id for later removal.
func (p *CronPublisher) Schedule(schedule string, factory EventFactory) (cron.EntryID, error) {
	return p.cron.AddFunc(schedule, func() {
		event := factory()
		if event == nil {
			return
		}
		if err := p.bus.Post(event); err != nil {
			p.logger.Error("Scheduled post failed", "schedule", schedule, "error", err)
		}
	})
}

// ScheduleSticky is like Schedule but retains each produced event as the
// sticky value of its type, so late subscribers observe the most recent
// firing.
func (p *CronPublisher) ScheduleSticky(schedule string, factory EventFactory) (cron.EntryID, error) {
	return p.cron.AddFunc(schedule, func() {
		event := factory()
		if event == nil {
			return
		}
		if err := p.bus.PostSticky(event); err != nil {
			p.logger.Error("Scheduled sticky post failed", "schedule", schedule, "error", err)
		}
	})
}

// Remove cancels a scheduled publication.
func (p *CronPublisher) Remove(id cron.EntryID) {
	p.cron.Remove(id)
}

// Start launches the cron runner in its own goroutine.
func (p *CronPublisher) Start() {
	p.cron.Start()
}

// Stop stops the cron runner and waits for in-flight firings to finish.
func (p *CronPublisher) Stop() {
	<-p.cron.Stop().Done()
}
