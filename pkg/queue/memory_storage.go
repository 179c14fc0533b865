package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// starvationInterval is the anti-starvation guaranteed slot: every Nth claim
// services the oldest waiting job regardless of its priority lane, so a
// steady stream of urgent work can delay lower lanes only boundedly.
const starvationInterval = 4

type jobEntry struct {
	job *Job
	seq uint64 // enqueue order, breaks FIFO ties within a lane
}

// MemoryStorage implements JobRepository for testing and single-process use.
type MemoryStorage struct {
	mu      sync.RWMutex
	jobs    map[string]*jobEntry
	byState map[JobState][]string
	hourly  map[time.Time]*HourlyBucket

	nextSeq    uint64
	claimCount uint64
}

// NewMemoryStorage creates an empty in-memory job store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:    make(map[string]*jobEntry),
		byState: make(map[JobState][]string),
		hourly:  make(map[time.Time]*HourlyBucket),
	}
}

// CreateJob implements JobRepository.
func (ms *MemoryStorage) CreateJob(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	// Clone to prevent external mutation of stored state.
	jobCopy := *job
	jobCopy.Notification.Metadata = job.Notification.Metadata.Clone()

	ms.nextSeq++
	ms.jobs[job.ID] = &jobEntry{job: &jobCopy, seq: ms.nextSeq}
	ms.byState[jobCopy.State] = append(ms.byState[jobCopy.State], job.ID)

	return nil
}

// ClaimJob implements JobRepository. Selection is priority-first with FIFO
// inside each lane; delayed jobs become eligible once their ScheduledAt
// passes; every starvationInterval-th claim takes the oldest eligible job
// regardless of priority.
func (ms *MemoryStorage) ClaimJob(_ context.Context) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	ms.promoteDueJobs(now)

	var best *jobEntry
	fifoOnly := (ms.claimCount+1)%starvationInterval == 0

	for _, jobID := range ms.byState[JobStateWaiting] {
		entry := ms.jobs[jobID]

		if best == nil {
			best = entry
			continue
		}

		if fifoOnly {
			if entry.seq < best.seq {
				best = entry
			}
			continue
		}

		if entry.job.Notification.Priority > best.job.Notification.Priority ||
			(entry.job.Notification.Priority == best.job.Notification.Priority && entry.seq < best.seq) {
			best = entry
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	ms.claimCount++
	best.job.State = JobStateActive
	best.job.AttemptsMade++

	ms.removeFromStateIndex(best.job.ID, JobStateWaiting)
	ms.byState[JobStateActive] = append(ms.byState[JobStateActive], best.job.ID)

	jobCopy := *best.job
	return &jobCopy, nil
}

// CompleteJob implements JobRepository.
func (ms *MemoryStorage) CompleteJob(_ context.Context, jobID string) error {
	return ms.settle(jobID, JobStateCompleted, nil)
}

// FailJob implements JobRepository.
func (ms *MemoryStorage) FailJob(_ context.Context, jobID string, reason string) error {
	return ms.settle(jobID, JobStateFailed, &reason)
}

func (ms *MemoryStorage) settle(jobID string, state JobState, reason *string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	// Failed jobs may be re-settled when a later retry resolves them.
	if entry.job.State != JobStateActive && entry.job.State != JobStateFailed {
		return fmt.Errorf("job %s is not settleable in state %s", jobID, entry.job.State)
	}

	now := time.Now()
	ms.removeFromStateIndex(jobID, entry.job.State)

	entry.job.State = state
	entry.job.FailureReason = reason
	entry.job.ProcessedAt = &now
	ms.byState[state] = append(ms.byState[state], jobID)

	return nil
}

// GetJob implements JobRepository.
func (ms *MemoryStorage) GetJob(_ context.Context, jobID string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, exists := ms.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	jobCopy := *entry.job
	return &jobCopy, nil
}

// ListJobsByState implements JobRepository. Jobs are returned in enqueue order.
func (ms *MemoryStorage) ListJobsByState(_ context.Context, state JobState) ([]Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ids := slices.Clone(ms.byState[state])
	slices.SortFunc(ids, func(a, b string) int {
		return int(ms.jobs[a].seq) - int(ms.jobs[b].seq)
	})

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, *ms.jobs[id].job)
	}
	return jobs, nil
}

// DeleteJob implements JobRepository.
func (ms *MemoryStorage) DeleteJob(_ context.Context, jobID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	ms.removeFromStateIndex(jobID, entry.job.State)
	delete(ms.jobs, jobID)
	return nil
}

// Stats implements JobRepository. The snapshot is computed under a read lock
// so concurrent dispatch never exposes a job mid-transition.
func (ms *MemoryStorage) Stats(_ context.Context) (Stats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := Stats{
		ByChannel:  make(map[notification.Channel]int),
		ByPriority: make(map[notification.Priority]int),
		ByState:    make(map[JobState]int),
	}

	for _, entry := range ms.jobs {
		stats.Total++
		stats.ByChannel[entry.job.Notification.Channel]++
		stats.ByPriority[entry.job.Notification.Priority]++
		stats.ByState[entry.job.State]++
	}

	stats.Waiting = stats.ByState[JobStateWaiting]
	stats.Active = stats.ByState[JobStateActive]
	stats.Completed = stats.ByState[JobStateCompleted]
	stats.Failed = stats.ByState[JobStateFailed]
	stats.Delayed = stats.ByState[JobStateDelayed]

	stats.Hourly = make([]HourlyBucket, 0, len(ms.hourly))
	for _, bucket := range ms.hourly {
		stats.Hourly = append(stats.Hourly, *bucket)
	}
	sort.Slice(stats.Hourly, func(i, j int) bool {
		return stats.Hourly[i].Hour.Before(stats.Hourly[j].Hour)
	})

	return stats, nil
}

// RecordSendOutcome implements JobRepository.
func (ms *MemoryStorage) RecordSendOutcome(_ context.Context, at time.Time, success bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	bucket := ms.bucketFor(at)
	bucket.Count++
	if success {
		bucket.SuccessCount++
	} else {
		bucket.FailureCount++
	}
	return nil
}

// promoteDueJobs moves delayed jobs whose time has come into the waiting
// lane. Must be called with the write lock held.
func (ms *MemoryStorage) promoteDueJobs(now time.Time) {
	for _, jobID := range slices.Clone(ms.byState[JobStateDelayed]) {
		entry := ms.jobs[jobID]
		if !entry.job.ScheduledAt.After(now) {
			entry.job.State = JobStateWaiting
			ms.removeFromStateIndex(jobID, JobStateDelayed)
			ms.byState[JobStateWaiting] = append(ms.byState[JobStateWaiting], jobID)
		}
	}
}

func (ms *MemoryStorage) bucketFor(at time.Time) *HourlyBucket {
	hour := at.Truncate(time.Hour)
	bucket, ok := ms.hourly[hour]
	if !ok {
		bucket = &HourlyBucket{Hour: hour}
		ms.hourly[hour] = bucket
	}
	return bucket
}

func (ms *MemoryStorage) removeFromStateIndex(jobID string, state JobState) {
	ms.byState[state] = slices.DeleteFunc(ms.byState[state], func(id string) bool {
		return id == jobID
	})
}
