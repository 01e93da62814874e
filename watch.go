package jwtx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadKeyFile reads path and decodes it into key material.
func LoadKeyFile(path string, decode KeyDecoder) (KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyMaterial{}, newErrorf(ErrCodeInvalidKey, "read key file: %w", err)
	}
	return decode(data)
}

// KeyWatcher reloads a key file into a KeyStore whenever the file is written
// or recreated. A file that fails to decode leaves the previous key in place.
type KeyWatcher struct {
	path    string
	store   *KeyStore
	decode  KeyDecoder
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewKeyWatcher starts watching the directory containing path. Events are
// only consumed once Run is called.
func NewKeyWatcher(path string, store *KeyStore, decode KeyDecoder, logger *zap.Logger) (*KeyWatcher, error) {
	if store == nil || decode == nil {
		return nil, fmt.Errorf("key watcher needs a store and a decoder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	clean := filepath.Clean(path)
	// Editors and secret mounts replace files rather than writing in place, so
	// watch the directory and filter by name.
	if err := watcher.Add(filepath.Dir(clean)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(clean), err)
	}
	return &KeyWatcher{
		path:    clean,
		store:   store,
		decode:  decode,
		logger:  logger.With(zap.String("path", clean)),
		watcher: watcher,
	}, nil
}

// Run processes file events until ctx is cancelled or the watcher is closed.
func (w *KeyWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("key watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying watcher.
func (w *KeyWatcher) Close() error {
	return w.watcher.Close()
}

func (w *KeyWatcher) reload() {
	material, err := LoadKeyFile(w.path, w.decode)
	if err != nil {
		w.logger.Error("key reload failed, keeping previous key", zap.Error(err))
		return
	}
	w.store.Rotate(material)
	w.logger.Info("key reloaded", zap.String("kid", material.KeyID))
}
