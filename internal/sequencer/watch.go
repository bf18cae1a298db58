package sequencer

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on Dir and signals wake whenever a file is
// created or written there. It is a latency optimization layered on top of
// the ingest loop's mandatory poll-with-sleep loop: the loop must keep
// polling on its own timer regardless, since fsnotify can coalesce or drop
// events under load, but a wakeup lets it notice new data well under the
// ~100ms poll interval instead of waiting for the next tick.
//
// Watch returns immediately; the watcher runs until ctx is cancelled, at
// which point it closes itself. Failures to establish the watch are logged
// and treated as non-fatal — the poll loop still makes forward progress
// without it.
func Watch(ctx context.Context, dir string, wake chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("sequencer: fsnotify unavailable, falling back to polling only", "error", err)
		return
	}

	if err := watcher.Add(dir); err != nil {
		slog.Warn("sequencer: fsnotify watch failed, falling back to polling only", "dir", dir, "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case wake <- struct{}{}:
					default:
						// A wakeup is already pending; the poll loop will
						// pick up the new data on its next iteration
						// regardless.
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("sequencer: fsnotify error", "error", err)
			}
		}
	}()
}
