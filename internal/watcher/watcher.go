// Package watcher reports documents dropped into a folder so they can be
// ingested automatically.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type Operation int

const (
	FileCreated Operation = iota
	FileModified
)

type Event struct {
	Path      string
	Operation Operation
}

// Handler processes one event. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, ev Event) error

type Watcher struct {
	watcher    *fsnotify.Watcher
	extensions map[string]struct{}
	debounce   time.Duration
}

// New watches files whose lower-cased extension is in extensions.
func New(extensions []string, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Watcher{watcher: w, extensions: exts, debounce: debounce}, nil
}

// Watch starts monitoring dir. The channel closes when ctx is done or the
// watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.watched(event.Name) {
					continue
				}

				var op Operation
				switch {
				case event.Has(fsnotify.Create):
					op = FileCreated
				case event.Has(fsnotify.Write):
					op = FileModified
				default:
					continue
				}

				select {
				case events <- Event{Path: event.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("dir", dir).Msg("File watcher error")
			}
		}
	}()
	return events, nil
}

type pending struct {
	timer *time.Timer
	gen   int
	op    Operation
}

type settled struct {
	path string
	gen  int
}

// Run watches dir and calls handle once per path after its events have been
// quiet for the debounce period, so a file still being written is only
// handled when the writer is done. The operation reported is the first one
// seen in the burst. Run returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, dir string, handle Handler) error {
	events, err := w.Watch(ctx, dir)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	ready := make(chan settled)
	waiting := map[string]*pending{}
	// gen is shared by all paths so a signal from an earlier burst never
	// matches a later one
	gen := 0
	defer func() {
		for _, p := range waiting {
			p.timer.Stop()
		}
		close(done)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			gen++
			p, ok := waiting[ev.Path]
			if ok {
				p.timer.Stop()
			} else {
				p = &pending{op: ev.Operation}
				waiting[ev.Path] = p
			}
			p.gen = gen
			path, g := ev.Path, gen
			p.timer = time.AfterFunc(w.debounce, func() { settle(ready, done, path, g) })
		case s := <-ready:
			p, ok := waiting[s.path]
			if !ok || p.gen != s.gen {
				// superseded by a later event
				continue
			}
			delete(waiting, s.path)
			if err := handle(ctx, Event{Path: s.path, Operation: p.op}); err != nil {
				log.Error().Err(err).Str("path", s.path).Msg("Error handling file event")
			}
		}
	}
}

func settle(ready chan<- settled, done <-chan struct{}, path string, gen int) {
	select {
	case ready <- settled{path: path, gen: gen}:
	case <-done:
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) watched(path string) bool {
	_, ok := w.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
