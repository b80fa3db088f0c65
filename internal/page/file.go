// Package page provides live board documents for the watcher: a Chrome tab
// driven over the DevTools protocol, or an HTML snapshot file on disk.
package page

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File is a board snapshot on disk. Writes are reported as mutations and a
// replaced file (create or rename onto the path) as a load.
type File struct {
	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger

	mutations chan struct{}
	loads     chan struct{}
	done      chan struct{}
}

// OpenFile starts watching path until ctx is done or Close is called
func OpenFile(ctx context.Context, path string, log zerolog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("board snapshot: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so editors that replace the file are still seen
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	f := &File{
		path:      abs,
		watcher:   watcher,
		log:       log.With().Str("component", "page").Str("file", abs).Logger(),
		mutations: make(chan struct{}, 1),
		loads:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go f.run(ctx)
	return f, nil
}

// HTML returns the current file contents
func (f *File) HTML(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *File) Mutations() <-chan struct{} { return f.mutations }
func (f *File) Loads() <-chan struct{}     { return f.loads }

// Close stops watching
func (f *File) Close() error {
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.watcher.Close()
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			switch {
			case event.Op&fsnotify.Write != 0:
				signal(f.mutations)
			case event.Op&(fsnotify.Create|fsnotify.Rename) != 0:
				signal(f.loads)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// signal sends without blocking; a pending signal already covers this one
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
