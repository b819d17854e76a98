package background_tasks

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestPeriodicTriggerInterval(t *testing.T) {
	mock := clock.NewMock()
	trigger := &PeriodicTrigger{Interval: time.Minute, Clock: mock}
	trigger.Reset()

	assert.False(t, trigger.IsReady())

	mock.Add(59 * time.Second)
	assert.False(t, trigger.IsReady())

	mock.Add(2 * time.Second)
	assert.True(t, trigger.IsReady())

	trigger.Reset()
	assert.False(t, trigger.IsReady())
}

func TestPeriodicTriggerCron(t *testing.T) {
	mock := clock.NewMock()
	trigger := &PeriodicTrigger{CronExpr: "@hourly", Clock: mock}
	trigger.Reset()

	mock.Add(30 * time.Minute)
	assert.False(t, trigger.IsReady())

	mock.Add(31 * time.Minute)
	assert.True(t, trigger.IsReady())
}

func TestPeriodicTriggerBadCron(t *testing.T) {
	mock := clock.NewMock()
	trigger := &PeriodicTrigger{CronExpr: "not a cron expr", Clock: mock}
	trigger.Reset()

	mock.Add(24 * time.Hour)
	assert.False(t, trigger.IsReady())
}

func TestOneTimeTrigger(t *testing.T) {
	mock := clock.NewMock()
	trigger := &OneTimeTrigger{Delay: 2 * time.Second, Clock: mock}
	trigger.Reset()

	assert.False(t, trigger.IsReady())
	mock.Add(3 * time.Second)
	assert.True(t, trigger.IsReady())
}

func TestEventTrigger(t *testing.T) {
	trigger := &EventTrigger{Trigger: make(chan bool, 1)}

	assert.False(t, trigger.IsReady())
	trigger.Trigger <- true
	assert.True(t, trigger.IsReady())
	assert.False(t, trigger.IsReady(), "an event is consumed by the ready check")
}
