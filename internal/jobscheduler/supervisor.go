package jobscheduler

import (
	"context"
	"slices"
	"sync"

	"github.com/alecthomas/errors"
	"github.com/google/uuid"

	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/logging"
)

// Supervisor owns one set of workers, one per job.
//
// Workers exit by themselves when their configuration disappears. Stop is only for
// process shutdown: it interrupts the sleep between iterations, never a running job.
type Supervisor struct {
	id        string
	store     configstore.Store
	config    Config
	observers []Observer

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	running  map[string]int
	done     chan struct{}
	doneOnce sync.Once
}

// ErrStopped is the cancellation cause of a stopped supervisor.
var ErrStopped = errors.New("supervisor stopped")

func New(ctx context.Context, config Config, store configstore.Store, observers ...Observer) *Supervisor {
	id := uuid.NewString()
	ctx, _ = logging.With(ctx, "supervisor", id)
	ctx, cancel := context.WithCancelCause(ctx)
	return &Supervisor{
		id:        id,
		store:     store,
		config:    config,
		observers: append([]Observer{LogObserver()}, observers...),
		ctx:       ctx,
		cancel:    cancel,
		running:   map[string]int{},
		done:      make(chan struct{}),
	}
}

// ID identifies this worker set in logs and run history.
func (s *Supervisor) ID() string { return s.id }

// Start spawns one worker per job. It returns false if the supervisor is stopping.
func (s *Supervisor) Start(jobs []Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	for _, job := range jobs {
		s.wg.Add(1)
		s.running[job.Name]++
		go s.work(job)
	}
	if len(s.running) == 0 {
		s.doneOnce.Do(func() { close(s.done) })
	}
	logging.FromContext(s.ctx).InfoContext(s.ctx, "Workers started", "jobs", len(jobs))
	return true
}

func (s *Supervisor) work(job Job) {
	defer s.wg.Done()
	defer s.exited(job.Name)
	ctx, _ := logging.With(s.ctx, "job", job.Name)
	w := &worker{
		store:      s.store,
		unit:       unitOf(s.config),
		supervisor: s.id,
		job:        job,
		observers:  s.observers,
	}
	if err := w.run(ctx); err != nil && !errors.Is(err, ErrStopped) {
		logging.FromContext(ctx).WarnContext(ctx, "Worker stopped", "error", err)
	}
}

func (s *Supervisor) exited(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name]--
	if s.running[name] <= 0 {
		delete(s.running, name)
	}
	if len(s.running) == 0 {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// Running returns the names of jobs whose worker has not exited yet.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.running {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Done is closed once every started worker has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Wait blocks until every worker has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Stop interrupts sleeping workers and waits for all of them to exit, or for ctx to
// expire. Jobs already running are allowed to finish.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.cancel(ErrStopped)

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for workers")
	}
}
