package discovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// UpdateFn receives the body of a changed service config. An error leaves the
// current snapshot in place; the watcher retries with the next poll.
type UpdateFn func(body []byte) error

// Watcher polls one service path and pushes changed bodies into the data
// path. One goroutine per watched service; the data path never waits on it.
type Watcher struct {
	discover Discover
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewWatcher creates a watcher polling at the given interval.
func NewWatcher(discover Discover, interval time.Duration, log *zap.SugaredLogger) *Watcher {
	return &Watcher{discover: discover, interval: interval, log: log}
}

// Watch polls name until the context is done. The first successful fetch is
// delivered before any waiting, so service startup does not lose a poll
// interval.
func (w *Watcher) Watch(ctx context.Context, name ServiceName, update UpdateFn) error {
	log := w.log.With("service", name.Name())

	pollBackoff := backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Minute,
	}
	pollBackoff.Reset()

	sig := ""
	for {
		res, err := w.discover.GetService(ctx, name.Path(), sig)
		wait := w.interval
		switch {
		case err != nil:
			wait = pollBackoff.NextBackOff()
			log.Warnw("discovery poll failed", zap.Error(err))
		case res.Kind == Changed:
			pollBackoff.Reset()
			if err := update(res.Body); err != nil {
				// Keep the old signature so the next poll redelivers.
				log.Errorw("config update rejected", zap.Error(err))
				break
			}
			sig = res.Sig.Serialize()
			log.Infow("config applied", zap.String("sig", sig))
		case res.Kind == NotFound:
			log.Debugw("service not found")
		default:
			pollBackoff.Reset()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// WatchFilter selects which socket names under the socks dir become
// services.
type WatchFilter struct {
	globs []glob.Glob
}

// NewWatchFilter compiles the patterns. An empty pattern set admits
// everything.
func NewWatchFilter(patterns []string) (*WatchFilter, error) {
	f := &WatchFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, err
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match reports whether the service name is watched.
func (f *WatchFilter) Match(name string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
