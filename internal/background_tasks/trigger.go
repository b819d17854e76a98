package background_tasks

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Trigger interface defines a method to check if a trigger condition is met.
type Trigger interface {
	IsReady() bool // Returns true if the trigger condition is met.
	Reset()        // Resets the trigger state.
}

// PeriodicTrigger triggers at regular intervals or based on a cron
// expression. The clock is injectable so tests can advance virtual time.
type PeriodicTrigger struct {
	Interval      time.Duration // Interval for periodic triggering.
	CronExpr      string        // Cron expression for triggering.
	Clock         clock.Clock   // Time source; defaults to the wall clock.
	lastTriggered time.Time     // Last time the trigger was activated.
}

func (t *PeriodicTrigger) now() time.Time {
	if t.Clock == nil {
		t.Clock = clock.New()
	}
	return t.Clock.Now()
}

// IsReady checks if the trigger should activate based on time or cron expression.
func (t *PeriodicTrigger) IsReady() bool {
	if t.Interval > 0 && t.lastTriggered.Add(t.Interval).Before(t.now()) {
		return true
	}

	if t.CronExpr != "" {
		cronExpr, err := cron.ParseStandard(t.CronExpr)
		if err != nil {
			zlog.Sugar().Errorf("Error parsing CronExpr: %v", err)
			return false
		}

		return cronExpr.Next(t.lastTriggered).Before(t.now())
	}
	return false
}

// Reset updates the last triggered time to the current time.
func (t *PeriodicTrigger) Reset() {
	t.lastTriggered = t.now()
}

// EventTrigger triggers based on an external event signaled through a channel.
type EventTrigger struct {
	Trigger chan bool // Channel to signal an event.
}

// IsReady checks if there is a signal in the trigger channel.
func (t *EventTrigger) IsReady() bool {
	select {
	case <-t.Trigger:
		return true
	default:
		return false
	}
}

// Reset for EventTrigger does nothing as its state is managed externally.
func (t *EventTrigger) Reset() {}

// OneTimeTrigger triggers once after a specified delay.
type OneTimeTrigger struct {
	Delay        time.Duration // The delay after which to trigger.
	Clock        clock.Clock   // Time source; defaults to the wall clock.
	registeredAt time.Time     // Time when the trigger was set.
}

func (t *OneTimeTrigger) now() time.Time {
	if t.Clock == nil {
		t.Clock = clock.New()
	}
	return t.Clock.Now()
}

// Reset sets the trigger registration time to the current time.
func (t *OneTimeTrigger) Reset() {
	t.registeredAt = t.now()
}

// IsReady checks if the current time has passed the delay period.
func (t *OneTimeTrigger) IsReady() bool {
	return t.registeredAt.Add(t.Delay).Before(t.now())
}
