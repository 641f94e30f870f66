// Package scheduler runs the daemon's background jobs: fixed-cadence ticks
// for the stop monitor and watchdog, and clock-based daily jobs for the
// rebalance and the replenishment pass.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/util"
)

// JobFunc is one job invocation. A panic inside is recovered and logged;
// a broken job must not take the daemon down.
type JobFunc func(ctx context.Context)

type trigger interface {
	// next returns when the job should run after now.
	next(now time.Time) time.Time
}

type intervalTrigger struct {
	interval time.Duration
}

func (t intervalTrigger) next(now time.Time) time.Time {
	return now.Add(t.interval)
}

type dailyTrigger struct {
	schedule domain.Schedule
}

func (t dailyTrigger) next(now time.Time) time.Time {
	return t.schedule.Next(now)
}

type job struct {
	name    string
	trigger trigger
	fn      JobFunc
	cancel  context.CancelFunc
}

// Scheduler owns a set of named jobs. Adding a job under an existing name
// replaces it; the old goroutine is stopped first.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler. Clock-based jobs fire on exchange time.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		now:  util.Now,
		jobs: make(map[string]*job),
	}
}

// AddIntervalJob registers fn to run every interval, starting one interval
// after registration.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, fn JobFunc) {
	s.add(&job{name: name, trigger: intervalTrigger{interval: interval}, fn: fn})
}

// AddDailyJob registers fn to run per the given schedule.
func (s *Scheduler) AddDailyJob(name string, schedule domain.Schedule, fn JobFunc) {
	s.add(&job{name: name, trigger: dailyTrigger{schedule: schedule}, fn: fn})
}

func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[j.name]; ok {
		if old.cancel != nil {
			old.cancel()
		}
		s.log.Info("job replaced", "job", j.name)
	}
	s.jobs[j.name] = j
	if s.running {
		s.launch(j)
	}
}

// RemoveJob stops and deregisters the named job. Unknown names are ignored.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		if j.cancel != nil {
			j.cancel()
		}
		delete(s.jobs, name)
		s.log.Info("job removed", "job", name)
	}
}

// JobInfo describes one registered job.
type JobInfo struct {
	Name    string
	NextRun time.Time
}

// Jobs returns a snapshot of the registered jobs sorted by name, with each
// job's next run time computed from the current clock.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		infos = append(infos, JobInfo{Name: name, NextRun: j.trigger.next(now)})
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].Name < infos[k].Name })
	return infos
}

// Start launches every registered job. Jobs added later start immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, j := range s.jobs {
		s.launch(j)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// launch starts the job goroutine. Caller holds mu.
func (s *Scheduler) launch(j *job) {
	jctx, jcancel := context.WithCancel(s.ctx)
	j.cancel = jcancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			now := s.now()
			timer := time.NewTimer(j.trigger.next(now).Sub(now))
			select {
			case <-jctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.safeRun(jctx, j)
			}
		}
	}()
}

func (s *Scheduler) safeRun(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", j.name, "panic", r)
		}
	}()
	j.fn(ctx)
}
