package domain

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/run"
	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/rewrite"
)

// Watcher delivers changes to platform class files.
type Watcher interface {
	Events() <-chan adapter.ArtifactEvent
	Run(ctx context.Context) error
	Close() error
}

// WatchArgs contains the arguments for rewriting classes as they change.
type WatchArgs struct {
	RewriteArgs

	Watcher Watcher
}

// Watch rewrites every class once, then again each time its file changes,
// until ctx is done. Failures of single classes are reported and do not
// stop watching.
func (w *workflow) Watch(ctx context.Context, args WatchArgs) error {
	if args.Watcher == nil {
		return zerr.Wrap(m.ErrConfiguration, "no watcher configured")
	}

	if _, err := w.Rewrite(ctx, args.RewriteArgs); err != nil {
		return err
	}

	rw := rewrite.NewCaching(rewrite.New(args.Instrumentation), w.cache)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return args.Watcher.Run(watchCtx)
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		for ev := range args.Watcher.Events() {
			w.handleEvent(watchCtx, rw, ev, args.Save)
		}

		return nil
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		<-watchCtx.Done()

		return watchCtx.Err()
	}, func(error) {
		cancel()
	})

	slog.Info("Watching platform classes for changes")

	err := g.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (w *workflow) handleEvent(ctx context.Context, rw *rewrite.CachingRewriter, ev adapter.ArtifactEvent, save bool) {
	if ev.Removed {
		slog.Info("Platform class removed", "class", string(ev.Class), "version", ev.Version.String())

		return
	}

	report, err := w.rewriteClass(ctx, rw, ev.Version, ev.Class, save)
	if err != nil {
		report.Err = err
		slog.Warn("Rewrite of changed class failed", "class", string(ev.Class), "version", ev.Version.String(), "error", err)
	}

	w.DisplayWatchEvent(ctx, report)
}
