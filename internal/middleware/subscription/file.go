package subscription

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/logging"
)

// FileSource keeps a gate in step with a keys file. The file holds one key
// per line; blank lines and lines starting with # are ignored.
type FileSource struct {
	path     string
	debounce time.Duration
	current  map[string]struct{}
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:     path,
		debounce: 100 * time.Millisecond,
		current:  make(map[string]struct{}),
	}
}

// Check reports whether the keys file can be read and parsed.
func (s *FileSource) Check() error {
	_, err := readKeys(s.path)
	return err
}

// SetDebounce sets how long to wait after the last write before reloading.
func (s *FileSource) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Run publishes the file's keys, then watches the file and publishes the
// difference after each change until ctx is cancelled.
func (s *FileSource) Run(ctx context.Context, pub Publisher) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("keys file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", s.path, err)
	}

	keys, err := readKeys(s.path)
	if err != nil {
		return err
	}
	if err := s.sync(ctx, pub, keys); err != nil {
		return nil
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			keys, err := readKeys(s.path)
			if errors.Is(err, fs.ErrNotExist) {
				// A removed file grants nothing.
				logging.Warn("keys file removed, revoking its keys",
					zap.String("path", s.path),
					zap.Int("keys", len(s.current)),
				)
				keys, err = map[string]struct{}{}, nil
			}
			if err != nil {
				logging.Error("failed to reload keys file",
					zap.String("path", s.path),
					zap.Error(err),
				)
				continue
			}
			if err := s.sync(ctx, pub, keys); err != nil {
				return nil
			}
			logging.Info("keys file reloaded",
				zap.String("path", s.path),
				zap.Int("keys", len(keys)),
			)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("keys file watcher error", zap.Error(err))
		}
	}
}

// sync publishes revokes for keys that disappeared and subscribes for keys
// that appeared. It only fails when ctx is done.
func (s *FileSource) sync(ctx context.Context, pub Publisher, keys map[string]struct{}) error {
	for k := range s.current {
		if _, ok := keys[k]; ok {
			continue
		}
		if err := pub.Publish(ctx, Event{Action: Revoke, Key: k}); err != nil {
			return err
		}
	}
	for k := range keys {
		if _, ok := s.current[k]; ok {
			continue
		}
		if err := pub.Publish(ctx, Event{Action: Subscribe, Key: k}); err != nil {
			return err
		}
	}
	s.current = keys
	return nil
}

func readKeys(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keys file: %w", err)
	}

	keys := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		keys[string(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parsing keys file: %w", err)
	}
	return keys, nil
}
