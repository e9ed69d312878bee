package jobs

import (
	"fulfillment-engine/internal/config"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	services *Services
	gateways *payment.Registry
	config   *config.Config
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Transactions service.TransactionService
	Ledger       service.InventoryLedger
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(services *Services, gateways *payment.Registry, cfg *config.Config) *JobRunner {
	return &JobRunner{
		services: services,
		gateways: gateways,
		config:   cfg,
	}
}

// Config returns the configuration the jobs were built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.CancelStalePayments()
	jr.ProcessRefunds()
	jr.ReconcileInventory()
}
