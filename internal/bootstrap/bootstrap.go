// Package bootstrap toggles background maintenance on and off for a repository.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/jobs"
	"github.com/block/repokeeper/internal/jobscheduler"
	"github.com/block/repokeeper/internal/logging"
)

// ErrPreflight marks a failure of the initial run of every job. Nothing is persisted
// when it is returned.
var ErrPreflight = errors.New("pre-flight failed")

// PreflightError reports which job failed the pre-flight run.
type PreflightError struct {
	Job string
	Err error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPreflight, e.Job, e.Err)
}

func (e *PreflightError) Unwrap() error { return e.Err }

func (e *PreflightError) Is(target error) bool { return target == ErrPreflight }

// Flag is a repository-global git setting that is present only while maintenance is
// enabled.
type Flag struct {
	Key   string
	Value string
}

// GlobalFlags returns the settings applied on enable and removed on disable.
func GlobalFlags() []Flag {
	return []Flag{
		{Key: "core.multiPackIndex", Value: "true"},
		{Key: "fetch.unpackLimit", Value: "1"},
		{Key: "gc.auto", Value: "0"},
	}
}

// Outcome is the result of a toggle.
type Outcome struct {
	Enabled bool
	// Supervisor hosts the workers started by an enable, nil after a disable.
	Supervisor *jobscheduler.Supervisor
}

type Bootstrapper struct {
	store     configstore.Store
	jobs      *jobs.Jobs
	scheduler jobscheduler.Config
	observers []jobscheduler.Observer
}

func New(store configstore.Store, j *jobs.Jobs, scheduler jobscheduler.Config, observers ...jobscheduler.Observer) *Bootstrapper {
	return &Bootstrapper{store: store, jobs: j, scheduler: scheduler, observers: observers}
}

// Toggle enables maintenance if it is disabled and disables it otherwise.
//
// Toggling again before workers from a previous enable have noticed a disable can leave
// two worker sets running for up to one interval.
func (b *Bootstrapper) Toggle(ctx context.Context) (Outcome, error) {
	enabled, err := configstore.Enabled(ctx, b.store)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "read enable flag")
	}
	if enabled {
		return Outcome{}, b.Disable(ctx)
	}
	return b.Enable(ctx)
}

// Enable runs every job once, persists the maintenance configuration and starts one
// worker per job.
func (b *Bootstrapper) Enable(ctx context.Context) (Outcome, error) {
	logger := logging.FromContext(ctx)
	registry := b.jobs.Registry()

	for _, job := range registry {
		logger.InfoContext(ctx, "Running pre-flight", "job", job.Name)
		if err := job.Action(ctx); err != nil {
			return Outcome{}, errors.WithStack(&PreflightError{Job: job.Name, Err: err})
		}
	}

	for _, flag := range GlobalFlags() {
		if err := b.store.Set(ctx, flag.Key, flag.Value); err != nil {
			return Outcome{}, errors.Join(errors.Wrapf(err, "set %s", flag.Key), b.teardown(ctx))
		}
	}

	if err := b.jobs.InstallWatchHook(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to install fsmonitor hook", "error", err)
	}

	values := map[string]string{"enable": "1"}
	for _, job := range registry {
		values[job.Name] = strconv.Itoa(job.DefaultInterval)
	}
	if err := b.store.SetSection(ctx, configstore.Section, values); err != nil {
		return Outcome{}, errors.Join(errors.Wrap(err, "write maintenance configuration"), b.teardown(ctx))
	}

	supervisor := jobscheduler.New(ctx, b.scheduler, b.store, b.observers...)
	supervisor.Start(registry)
	logger.InfoContext(ctx, "Maintenance enabled", "supervisor", supervisor.ID())
	return Outcome{Enabled: true, Supervisor: supervisor}, nil
}

// Disable removes the maintenance configuration. Running workers are not signalled; each
// exits once it next reads its missing interval.
func (b *Bootstrapper) Disable(ctx context.Context) error {
	if err := b.teardown(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).InfoContext(ctx, "Maintenance disabled")
	return nil
}

// teardown removes the global flags, the hook and the maintenance section, attempting
// every step even if an earlier one fails.
func (b *Bootstrapper) teardown(ctx context.Context) error {
	var errs []error
	for _, flag := range GlobalFlags() {
		if err := b.store.Unset(ctx, flag.Key); err != nil {
			errs = append(errs, errors.Wrapf(err, "unset %s", flag.Key))
		}
	}
	if err := b.jobs.RemoveWatchHook(ctx); err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Failed to remove fsmonitor hook", "error", err)
	}
	if err := b.store.RemoveSection(ctx, configstore.Section); err != nil {
		errs = append(errs, errors.Wrap(err, "remove maintenance configuration"))
	}
	return errors.Join(errs...)
}
