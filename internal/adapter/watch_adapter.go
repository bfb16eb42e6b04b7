package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

const watchEventBuffer = 64

// ArtifactEvent reports a changed class file.
type ArtifactEvent struct {
	Version m.PlatformVersion
	Class   m.TypeName
	Path    string
	// Removed is set when the file was deleted or renamed away.
	Removed bool
}

// ArtifactWatcher reports changes to the class files of platform versions.
type ArtifactWatcher struct {
	fsWatcher *fsnotify.Watcher
	dirs      map[string]m.PlatformVersion
	events    chan ArtifactEvent
}

// NewArtifactWatcher watches the class directories of versions below the
// artifact root.
func NewArtifactWatcher(artifacts *LocalArtifactAdapter, versions []m.PlatformVersion) (*ArtifactWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &ArtifactWatcher{
		fsWatcher: watcher,
		dirs:      map[string]m.PlatformVersion{},
		events:    make(chan ArtifactEvent, watchEventBuffer),
	}

	for _, v := range versions {
		dir := filepath.Clean(artifacts.Dir(v))
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()

			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}

		w.dirs[dir] = v
	}

	return w, nil
}

// Events returns the channel changes are delivered on. It is closed when
// Run returns.
func (w *ArtifactWatcher) Events() <-chan ArtifactEvent { return w.events }

// Run converts file system events until ctx is done or the watcher is closed.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}

			ev, ok := w.convertEvent(event)
			if !ok {
				continue
			}

			select {
			case w.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}

			slog.Warn("Artifact watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *ArtifactWatcher) Close() error {
	return w.fsWatcher.Close()
}

func (w *ArtifactWatcher) convertEvent(event fsnotify.Event) (ArtifactEvent, bool) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ClassFileExt) || strings.HasPrefix(base, ".") {
		return ArtifactEvent{}, false
	}

	version, ok := w.dirs[filepath.Dir(filepath.Clean(event.Name))]
	if !ok {
		return ArtifactEvent{}, false
	}

	ev := ArtifactEvent{
		Version: version,
		Class:   m.TypeName(strings.TrimSuffix(base, ClassFileExt)),
		Path:    event.Name,
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		return ev, true
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		ev.Removed = true

		return ev, true
	default:
		return ArtifactEvent{}, false
	}
}
