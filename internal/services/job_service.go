package services

import (
	"context"
	"fmt"

	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
)

// JobStatus is the worker's counters plus the invoicing backlog the
// scheduled jobs work through.
type JobStatus struct {
	Worker           jobs.WorkerStats `json:"worker"`
	PushRetryBacklog int              `json:"push_retry_backlog"`
	IntegrityHolds   int64            `json:"integrity_holds"`
	PushMaxAttempts  int              `json:"push_max_attempts"`
}

type JobService struct {
	worker      *jobs.Worker
	invoices    repository.InvoiceRepository
	maxAttempts int
}

func NewJobService(worker *jobs.Worker, invoices repository.InvoiceRepository, maxAttempts int) *JobService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &JobService{
		worker:      worker,
		invoices:    invoices,
		maxAttempts: maxAttempts,
	}
}

// GetStatus reports worker stats, approved invoices still waiting on a push
// retry and invoices blocked by a broken audit chain.
func (s *JobService) GetStatus(ctx context.Context) (*JobStatus, error) {
	status := &JobStatus{
		Worker:          s.worker.GetStats(),
		PushMaxAttempts: s.maxAttempts,
	}

	retryable, err := s.invoices.FindPushRetryable(ctx, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("count push retries: %w", err)
	}
	status.PushRetryBacklog = len(retryable)

	query := repository.NewListQuery()
	query.PerPage = 1
	query.Filters["integrity_hold"] = "true"
	_, held, err := s.invoices.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count integrity holds: %w", err)
	}
	status.IntegrityHolds = held

	return status, nil
}
