package queue

import (
	"context"
	"sync"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/port"
)

// JobStore is the in-memory job state store backing status polling.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.ReconcileJob
}

var _ port.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]domain.ReconcileJob)}
}

// SaveJob upserts the job's current state.
func (s *JobStore) SaveJob(_ context.Context, job *domain.ReconcileJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = *job
	return nil
}

// GetJob returns a copy of the job state.
func (s *JobStore) GetJob(_ context.Context, jobID string) (*domain.ReconcileJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "reconcile job", ID: jobID}
	}
	return &job, nil
}
