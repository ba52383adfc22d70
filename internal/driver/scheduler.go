package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// ParseSchedule parses a standard cron expression or descriptor such as "@every 5m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", models.ErrConfiguration, spec, err)
	}
	return s, nil
}

// Schedule sets every job up, then steps each loop once per tick of spec until
// all of them are done or ctx is canceled. A tick is skipped for a loop whose
// previous step is still running. A failing loop is unscheduled; the others continue.
func (d *Driver) Schedule(ctx context.Context, spec string, jobs []Job) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	return d.RunScheduled(ctx, sched, jobs)
}

// RunScheduled is Schedule with a parsed schedule.
func (d *Driver) RunScheduled(ctx context.Context, sched cron.Schedule, jobs []Job) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cl := cronLogger{d.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	var (
		mu      sync.Mutex
		errs    []error
		live    = make(map[*run]cron.EntryID)
		allDone = make(chan struct{})
	)
	// end unschedules r and records how it ended. Safe to call more than once.
	end := func(r *run, err error) {
		mu.Lock()
		id, ok := live[r]
		if ok {
			r.ended.Store(true)
			delete(live, r)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.loop.Name(), err))
			}
			if len(live) == 0 {
				close(allDone)
			}
		}
		mu.Unlock()
		if ok {
			c.Remove(id)
			d.finish(ctx, r, err)
		}
	}

	for _, job := range jobs {
		r, err := d.start(ctx, job)
		if err == nil {
			if err = r.loop.Setup(ctx); err != nil {
				d.finish(ctx, r, err)
			}
		}
		if err != nil {
			cancel(err)
			for r := range live {
				d.finish(ctx, r, context.Canceled)
			}
			return err
		}
		live[r] = c.Schedule(sched, cron.FuncJob(func() { d.tick(ctx, cancel, r, end) }))
	}
	if len(live) == 0 {
		return nil
	}

	c.Start()
	select {
	case <-allDone:
	case <-ctx.Done():
	}
	<-c.Stop().Done()

	mu.Lock()
	defer mu.Unlock()
	for r := range live {
		d.finish(ctx, r, context.Cause(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

// tick steps one loop. A stop signal cancels the whole schedule; a pause skips the tick.
func (d *Driver) tick(ctx context.Context, cancel context.CancelCauseFunc, r *run, end func(*run, error)) {
	if ctx.Err() != nil || r.ended.Load() {
		return
	}
	if d.pause != nil {
		if d.pause.IsStopped() {
			cancel(signals.ErrStopped)
			return
		}
		if d.pause.IsPaused() {
			d.log.Log("%s: paused, tick skipped", r.loop.Name())
			return
		}
	}
	done, err := r.loop.Iterate(ctx)
	if err != nil && ctx.Err() != nil {
		// canceled mid-step; recorded when the schedule winds down
		return
	}
	if done || err != nil {
		end(r, err)
	}
}

// cronLogger routes cron's own messages to the debug log.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Log("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Log("cron: %s: %v %v", msg, err, keysAndValues)
}
