package verification

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
)

func testVerificationConfig() config.Verification {
	return config.Verification{
		BenchmarkTimeoutMs:      int(5 * time.Minute / time.Millisecond),
		MaxConcurrentBenchmarks: 5,
		LowTierIntervalDays:     7,
		MidTierIntervalDays:     30,
		HighTierIntervalDays:    90,
		SpotCheckPercent:        1.0,
		WarnThresholdPct:        10,
		FailThresholdPct:        25,
		SlashThresholdPct:       50,
	}
}

func newTestScheduler(randPct float64) (*Scheduler, *clock.Mock) {
	mock := clock.NewMock()
	s := &Scheduler{
		cfg:     testVerificationConfig(),
		clock:   mock,
		randPct: func() float64 { return randPct },
	}
	return s, mock
}

func daysAgo(mock *clock.Mock, days float64) *time.Time {
	t := mock.Now().Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func TestShouldBenchmarkFirstEver(t *testing.T) {
	s, mock := newTestScheduler(99)

	needed, trigger := s.ShouldBenchmark(&models.MachineReputation{Score: models.InitialScore}, mock.Now())
	assert.True(t, needed)
	assert.Equal(t, models.TriggerInitial, trigger)
}

func TestShouldBenchmarkLowTierOverdue(t *testing.T) {
	s, mock := newTestScheduler(99)

	record := &models.MachineReputation{
		Score:           20,
		BenchmarkCount:  3,
		LastBenchmarkAt: daysAgo(mock, 8),
	}
	needed, trigger := s.ShouldBenchmark(record, mock.Now())
	assert.True(t, needed, "7-day interval exceeded at score 20")
	assert.Equal(t, models.TriggerScheduled, trigger)
}

func TestShouldBenchmarkHighTierNotDue(t *testing.T) {
	s, mock := newTestScheduler(99)

	record := &models.MachineReputation{
		Score:           85,
		BenchmarkCount:  10,
		LastBenchmarkAt: daysAgo(mock, 2),
	}
	needed, _ := s.ShouldBenchmark(record, mock.Now())
	assert.False(t, needed, "90-day interval, spot check draw above the percentage")
}

func TestShouldBenchmarkSpotCheck(t *testing.T) {
	s, mock := newTestScheduler(0.5)

	record := &models.MachineReputation{
		Score:           85,
		BenchmarkCount:  10,
		LastBenchmarkAt: daysAgo(mock, 2),
	}
	needed, trigger := s.ShouldBenchmark(record, mock.Now())
	assert.True(t, needed)
	assert.Equal(t, models.TriggerRandom, trigger)
}

func TestShouldBenchmarkNoSpotCheckWithinADay(t *testing.T) {
	s, mock := newTestScheduler(0.0)

	record := &models.MachineReputation{
		Score:           50,
		BenchmarkCount:  1,
		LastBenchmarkAt: daysAgo(mock, 0.5),
	}
	needed, _ := s.ShouldBenchmark(record, mock.Now())
	assert.False(t, needed, "spot checks only start a day after the last benchmark")
}

func TestShouldBenchmarkMidTierBoundary(t *testing.T) {
	s, mock := newTestScheduler(99)

	record := &models.MachineReputation{
		Score:           50,
		BenchmarkCount:  2,
		LastBenchmarkAt: daysAgo(mock, 30),
	}
	needed, trigger := s.ShouldBenchmark(record, mock.Now())
	assert.True(t, needed)
	assert.Equal(t, models.TriggerScheduled, trigger)
}
