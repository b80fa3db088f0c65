package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Settings is the in-memory cache of the user-editable settings: the backend
// base url and the Jira domain. Readers always see the latest write; a change
// never affects a request that already read the old value.
type Settings struct {
	mu         sync.RWMutex
	backendURL string
	jiraDomain string
}

// NewSettings seeds the cache from a loaded config
func NewSettings(cfg *Config) *Settings {
	s := &Settings{}
	s.Update(cfg.Backend.URL, cfg.Jira.Domain)
	return s
}

// BaseURL returns the backend base url without a trailing slash
func (s *Settings) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendURL
}

// JiraDomain returns the domain used to build issue browse links
func (s *Settings) JiraDomain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jiraDomain
}

// Update replaces both settings. An empty backend url resets to the default.
func (s *Settings) Update(backendURL, jiraDomain string) {
	backendURL = strings.TrimRight(strings.TrimSpace(backendURL), "/")
	if backendURL == "" {
		backendURL = DefaultBackendURL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendURL = backendURL
	s.jiraDomain = strings.TrimSpace(jiraDomain)
}

// Watch reloads the settings whenever the config file at path changes and
// blocks until ctx is done. The parent directory is watched because editors
// and Save replace the file by rename.
func (s *Settings) Watch(ctx context.Context, path string, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("reloading settings failed, keeping previous values")
			return
		}
		s.Update(cfg.Backend.URL, cfg.Jira.Domain)
		log.Info().Str("backend_url", s.BaseURL()).Str("jira_domain", s.JiraDomain()).Msg("settings reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce editor write bursts
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
