package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gpu-sheet-agent/internal/report"
	"gpu-sheet-agent/internal/sampling"
)

// Agent runs one reporting cycle: sample every interval until the
// aggregation window elapses, reduce the window into summary rows, and
// publish them once. A window of zero degenerates to a single immediate
// sample followed by the write.

type Publisher interface {
	Publish(ctx context.Context, rows [][]interface{}) error
}

type Options struct {
	Mode           report.Mode
	ServerName     string
	Location       *time.Location
	SampleInterval time.Duration
	Window         time.Duration

	Sampler   sampling.Sampler
	Resolver  report.ProcessResolver
	Publisher Publisher
	Logger    *zap.Logger
}

type Agent struct {
	opts Options
}

func New(opts Options) *Agent {
	return &Agent{opts: opts}
}

func (a *Agent) Run(ctx context.Context) error {
	defer func() { _ = a.opts.Sampler.Close() }()

	win := report.NewWindow(a.opts.Mode, a.opts.Resolver)

	// First sample immediately.
	a.observe(ctx, win)

	if a.opts.Window > 0 {
		ticker := time.NewTicker(a.opts.SampleInterval)
		defer ticker.Stop()
		windowEnd := time.NewTimer(a.opts.Window)
		defer windowEnd.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-windowEnd.C:
				break loop
			case <-ticker.C:
				a.observe(ctx, win)
			}
		}
	}

	return a.publish(ctx, win)
}

func (a *Agent) observe(ctx context.Context, win *report.Window) {
	snap, err := a.opts.Sampler.Sample(ctx)
	if err != nil {
		a.opts.Logger.Warn("sample failed", zap.Error(err))
		return
	}
	win.Observe(snap)
}

func (a *Agent) publish(ctx context.Context, win *report.Window) error {
	if win.Samples() == 0 {
		return errors.New("no samples collected, nothing to publish")
	}

	rows := win.Reduce(a.opts.ServerName, a.opts.Location)
	if len(rows) == 0 {
		a.opts.Logger.Info("no gpus found, nothing to publish", zap.String("server", a.opts.ServerName))
		return nil
	}

	if err := a.opts.Publisher.Publish(ctx, rows); err != nil {
		return err
	}
	a.opts.Logger.Info("report published",
		zap.String("server", a.opts.ServerName),
		zap.Int("rows", len(rows)),
		zap.Int("samples", win.Samples()),
	)
	return nil
}
