package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/paychan-labs/paychand/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
	mu        *sync.Mutex
	jobs      map[string]*gocron.Job
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc, &sync.Mutex{}, make(map[string]*gocron.Job)}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleTransferExpiry registers a one-shot timer for the transfer. A
// deadline already in the past fires immediately. Re-scheduling the same id
// replaces the previous timer.
func (s *service) ScheduleTransferExpiry(
	transferID string, at time.Time, expireFunc func(),
) error {
	if len(transferID) <= 0 {
		return fmt.Errorf("missing transfer id")
	}
	if at.IsZero() {
		return fmt.Errorf("invalid expiry time")
	}

	delay := time.Until(at)
	if delay <= 0 {
		go expireFunc()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[transferID]; ok {
		s.scheduler.Remove(job)
		delete(s.jobs, transferID)
	}

	job, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(func() {
		expireFunc()
		s.mu.Lock()
		defer s.mu.Unlock()
		if job, ok := s.jobs[transferID]; ok {
			s.scheduler.Remove(job)
			delete(s.jobs, transferID)
		}
	})
	if err != nil {
		return err
	}

	s.jobs[transferID] = job
	return nil
}

// CancelTransferExpiry drops the timer for a transfer that reached a terminal
// state before its deadline.
func (s *service) CancelTransferExpiry(transferID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[transferID]; ok {
		s.scheduler.Remove(job)
		delete(s.jobs, transferID)
	}
}
