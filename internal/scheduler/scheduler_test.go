package scheduler

import (
	"testing"

	"fulfillment-engine/internal/config"
	"fulfillment-engine/internal/jobs"
	"fulfillment-engine/internal/payment"

	"github.com/stretchr/testify/assert"
)

func runner(sched config.SchedulerConfig) *jobs.JobRunner {
	cfg := &config.Config{Scheduler: sched}
	return jobs.NewJobRunner(&jobs.Services{}, payment.NewRegistry(payment.NewSimulatedGateway("simulated", "s")), cfg)
}

func TestNewScheduler_RegistersValidSpecs(t *testing.T) {
	s := NewScheduler(runner(config.SchedulerConfig{
		CancelStalePayments: "0 */5 * * * *",
		ProcessRefunds:      "0 */15 * * * *",
		ReconcileInventory:  "0 0 3 * * *",
	}))
	assert.Len(t, s.cron.Entries(), 3)
	assert.True(t, s.IsRunning())

	s.Start()
	s.Stop()
}

func TestNewScheduler_SkipsInvalidSpecs(t *testing.T) {
	s := NewScheduler(runner(config.SchedulerConfig{
		CancelStalePayments: "every now and then",
		ProcessRefunds:      "0 */15 * * * *",
		ReconcileInventory:  "* * *",
	}))
	assert.Len(t, s.cron.Entries(), 1)
}
