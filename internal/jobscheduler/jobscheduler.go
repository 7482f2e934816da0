// Package jobscheduler runs maintenance jobs as independent, config-driven polling loops.
//
// Each worker re-reads its interval from the config store at the top of every
// iteration and exits on its own once the interval is absent or non-positive. A worker
// may run its job once more after its key is deleted, and its exit latency is bounded
// by the interval it last read.
package jobscheduler

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/logging"
)

type Config struct {
	IntervalUnit time.Duration `hcl:"interval-unit,optional" help:"Unit the configured job intervals are expressed in." default:"1s"`
}

// Job is a registered maintenance job.
type Job struct {
	Name string
	// ConfigKey holds the job's interval; <= 0 or absent disables the job.
	ConfigKey string
	// DefaultInterval is written to ConfigKey when maintenance is enabled.
	DefaultInterval int
	Action          func(ctx context.Context) error
}

// Result describes one iteration of a worker.
type Result struct {
	Job        string
	Supervisor string
	Iteration  int
	// Interval read at the start of the iteration, in config units.
	Interval int
	Started  time.Time
	Duration time.Duration
	Err      error
}

func (r Result) Failed() bool { return r.Err != nil }

// Observer receives every iteration's result. Observers must not block for long; they
// run on the worker's goroutine between the job body and the sleep.
type Observer interface {
	Observe(ctx context.Context, result Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result Result)

func (f ObserverFunc) Observe(ctx context.Context, result Result) { f(ctx, result) }

// worker is the state of one RunJob loop.
type worker struct {
	store      configstore.Store
	unit       time.Duration
	supervisor string
	job        Job
	observers  []Observer
}

// RunJob runs job until its configured interval is absent or non-positive, or ctx is
// cancelled while sleeping.
//
// Job failures and panics never end the loop; they are reported to observers and the
// job is retried next iteration. The job body gets a context that is not cancelled with
// ctx, so an in-flight run always completes.
func RunJob(ctx context.Context, store configstore.Store, config Config, job Job, observers ...Observer) error {
	w := &worker{store: store, unit: unitOf(config), job: job, observers: observers}
	return w.run(ctx)
}

func unitOf(config Config) time.Duration {
	if config.IntervalUnit <= 0 {
		return time.Second
	}
	return config.IntervalUnit
}

func (w *worker) run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	lastInterval := w.job.DefaultInterval
	for iteration := 1; ; iteration++ {
		interval, err := configstore.Interval(ctx, w.store, w.job.ConfigKey)
		if err != nil {
			// e.g. a config lock held by a user command.
			logger.WarnContext(ctx, "Failed to read job interval, retrying", "error", err)
			if err := w.sleep(ctx, max(lastInterval, 1)); err != nil {
				return err
			}
			continue
		}
		if interval <= 0 {
			logger.InfoContext(ctx, "Job disabled, worker exiting", "iterations", iteration-1)
			return nil
		}
		lastInterval = interval

		result := w.invoke(ctx, iteration, interval)
		for _, observer := range w.observers {
			observer.Observe(ctx, result)
		}

		if err := w.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (w *worker) invoke(ctx context.Context, iteration, interval int) (result Result) {
	result = Result{
		Job:        w.job.Name,
		Supervisor: w.supervisor,
		Iteration:  iteration,
		Interval:   interval,
		Started:    time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			result.Err = errors.Errorf("panic in %s: %v\n%s", w.job.Name, r, debug.Stack())
		}
		result.Duration = time.Since(result.Started)
	}()
	result.Err = w.job.Action(context.WithoutCancel(ctx))
	return result
}

// sleepDuration converts interval to a duration, saturating instead of overflowing.
func sleepDuration(interval int, unit time.Duration) time.Duration {
	if limit := int64(math.MaxInt64 / unit); int64(interval) > limit {
		return time.Duration(limit) * unit
	}
	return time.Duration(interval) * unit
}

func (w *worker) sleep(ctx context.Context, interval int) error {
	timer := time.NewTimer(sleepDuration(interval, w.unit))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.WithStack(context.Cause(ctx))
	case <-timer.C:
		return nil
	}
}

// LogObserver logs each result: failures at warn, successes at debug.
func LogObserver() Observer {
	return ObserverFunc(func(ctx context.Context, result Result) {
		logger := logging.FromContext(ctx)
		if result.Failed() {
			logger.WarnContext(ctx, fmt.Sprintf("Job %s failed, will retry", result.Job),
				"iteration", result.Iteration,
				"duration", result.Duration,
				"next_in", result.Interval,
				"error", result.Err)
			return
		}
		logger.DebugContext(ctx, fmt.Sprintf("Job %s completed", result.Job),
			"iteration", result.Iteration,
			"duration", result.Duration,
			"next_in", result.Interval)
	})
}
