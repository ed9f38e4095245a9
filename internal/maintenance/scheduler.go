package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered maintenance tasks on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]Task
	status  map[string]TaskStatus
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates an empty maintenance scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		tasks:  make(map[string]Task),
		status: make(map[string]TaskStatus),
	}
}

// RegisterTask registers a task under its own schedule. Must be called
// before Start.
func (s *Scheduler) RegisterTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := task.Name()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	if _, err := s.cron.AddFunc(task.Schedule(), func() {
		s.executeTask(context.Background(), name, task)
	}); err != nil {
		return fmt.Errorf("schedule task %s (%q): %w", name, task.Schedule(), err)
	}

	s.tasks[name] = task
	s.status[name] = TaskStatus{
		Name:        name,
		Description: task.Description(),
		Schedule:    task.Schedule(),
	}

	log.Printf("[Maintenance] registered task %s (%s)", name, task.Schedule())
	return nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true
	log.Printf("[Maintenance] scheduler started with %d tasks", len(s.tasks))
	return nil
}

// Stop stops the scheduler and waits briefly for running tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	s.running = false

	select {
	case <-ctx.Done():
		log.Println("[Maintenance] scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("[Maintenance] scheduler stop timed out")
	}
}

// RunNow executes every registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.RLock()
	tasks := make(map[string]Task, len(s.tasks))
	for name, task := range s.tasks {
		tasks[name] = task
	}
	s.mu.RUnlock()

	for name, task := range tasks {
		s.executeTask(ctx, name, task)
	}
}

// Status returns a snapshot of every task's status.
func (s *Scheduler) Status() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]TaskStatus, len(s.status))
	for name, st := range s.status {
		out[name] = st
	}
	return out
}

func (s *Scheduler) executeTask(ctx context.Context, name string, task Task) {
	start := time.Now()
	result := task.Execute(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	st := s.status[name]
	st.LastRun = start
	st.LastResult = result
	s.status[name] = st
	s.mu.Unlock()

	if result.Success {
		if result.RecordsProcessed > 0 {
			log.Printf("[Maintenance] task %s: %s (%d records, %v)",
				name, result.Message, result.RecordsProcessed, result.Duration)
		}
	} else {
		log.Printf("[Maintenance] task %s failed after %v: %v", name, result.Duration, result.Error)
	}
}
