// Package scheduler runs named periodic tasks bound to the service lifecycle.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one periodic job. Run is called once at Start and then every Interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStats reports how a task has been doing
type TaskStats struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler owns one timer per task
type Scheduler struct {
	logger zerolog.Logger
	tasks  []Task

	mu      sync.Mutex
	stats   map[string]*TaskStats
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		stats:  make(map[string]*TaskStats),
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}
	if _, ok := s.stats[task.Name]; ok {
		return fmt.Errorf("task %s already registered", task.Name)
	}

	s.tasks = append(s.tasks, task)
	s.stats[task.Name] = &TaskStats{}
	return nil
}

// Start launches every task. Each runs immediately, then on its ticker,
// until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	s.logger.Info().Int("tasks", len(tasks)).Msg("Scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	s.runOnce(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	start := time.Now()
	err := safeRun(ctx, task)

	s.mu.Lock()
	st := s.stats[task.Name]
	st.Runs++
	st.LastRun = start
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("task", task.Name).Dur("elapsed", time.Since(start)).Msg("Task failed")
		return
	}
	s.logger.Debug().Str("task", task.Name).Dur("elapsed", time.Since(start)).Msg("Task ran")
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Stop cancels every task and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Stats returns a copy of every task's stats
func (s *Scheduler) Stats() map[string]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TaskStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}
