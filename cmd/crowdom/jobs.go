package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/driver"
	"github.com/lambdazy/crowdom-sub001/internal/feedback"
	"github.com/lambdazy/crowdom-sub001/internal/poolfile"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
)

// definition is a loaded pool file of either kind.
type definition struct {
	path           string
	kind           string
	classification classification.Config
	feedback       feedback.Config
}

func (d definition) pools() []string {
	if d.kind == poolfile.KindFeedback {
		return []string{d.feedback.Markup.PoolID, d.feedback.Check.PoolID}
	}
	return []string{d.classification.PoolID}
}

// loadDefinition reads and compiles a pool or feedback file.
func loadDefinition(path string) (definition, error) {
	kind, err := poolfile.DetectKind(path)
	if err != nil {
		return definition{}, err
	}
	d := definition{path: path, kind: kind}
	if kind == poolfile.KindFeedback {
		f, err := poolfile.LoadFeedback(path)
		if err != nil {
			return definition{}, err
		}
		if d.feedback, err = f.Compile(); err != nil {
			return definition{}, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	}
	p, err := poolfile.Load(path)
	if err != nil {
		return definition{}, err
	}
	if d.classification, err = p.Compile(); err != nil {
		return definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// loadDefinitions compiles every file and rejects pools claimed twice.
func loadDefinitions(paths []string) ([]definition, error) {
	seen := make(map[string]string)
	defs := make([]definition, 0, len(paths))
	for _, path := range paths {
		d, err := loadDefinition(path)
		if err != nil {
			return nil, err
		}
		for _, pool := range d.pools() {
			if other, ok := seen[pool]; ok {
				return nil, fmt.Errorf("pool %s is defined by both %s and %s", pool, other, path)
			}
			seen[pool] = path
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// jobs creates the pools of defs and returns one driver job per definition.
func (e *env) jobs(ctx context.Context, defs []definition, pause *signals.PauseController) ([]driver.Job, error) {
	jobs := make([]driver.Job, 0, len(defs))
	for _, d := range defs {
		d := d
		for _, pool := range d.pools() {
			if err := e.store.CreatePool(ctx, pool); err != nil {
				return nil, fmt.Errorf("create pool %s: %w", pool, err)
			}
		}
		jobs = append(jobs, driver.Job{
			Kind:  d.kind,
			Pools: d.pools(),
			Build: func(rec classification.Recorder) (driver.Loop, error) {
				opts := e.loopOptions(rec, pause)
				if d.kind == poolfile.KindFeedback {
					return feedback.New(e.store, d.feedback, opts...)
				}
				return classification.New(e.store, d.classification, opts...)
			},
		})
	}
	return jobs, nil
}

func (e *env) loopOptions(rec classification.Recorder, pause *signals.PauseController) []classification.Option {
	opts := []classification.Option{
		classification.WithLogger(e.log),
		classification.WithPollInterval(e.cfg.Loop.PollInterval),
		classification.WithMaxIterations(e.cfg.Loop.MaxIterations),
	}
	if rec != nil {
		opts = append(opts, classification.WithRecorder(rec))
	}
	if pause != nil {
		opts = append(opts, classification.WithPauseController(pause))
	}
	return opts
}

// watchSignals clears stale signal files and starts watching for new ones.
func (e *env) watchSignals() (*signals.PauseController, func(), error) {
	dir := e.signalsDir()
	signals.Clear(dir)
	pause := signals.NewPauseController(signals.WithLogger(e.log))
	w, err := signals.Watch(dir, pause)
	if err != nil {
		return nil, nil, fmt.Errorf("watch signals: %w", err)
	}
	return pause, func() { w.Close() }, nil
}

// interruptible returns a context canceled on SIGINT or SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
