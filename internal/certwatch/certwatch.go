// Package certwatch hot-reloads a PEM-encoded CA bundle off disk so a
// long-lived Pool doesn't need to restart to pick up a rotated root
// certificate.
package certwatch

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches one CA bundle file and invokes a callback with the
// freshly-parsed x509.CertPool whenever the file changes on disk.
type Watcher struct {
	path     string
	callback func(*x509.CertPool)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// Load reads and parses path into an x509.CertPool.
func Load(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no usable certificates found in %s", path)
	}
	return pool, nil
}

// NewWatcher starts watching path, calling callback on every write/create
// event once the debounce window settles.
func NewWatcher(path string, callback func(*x509.CertPool)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating CA bundle watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching CA bundle: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("CA bundle watcher error", "err", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	pool, err := Load(cw.path)
	if err != nil {
		slog.Warn("CA bundle hot-reload failed", "path", cw.path, "err", err)
		return
	}
	slog.Info("CA bundle reloaded", "path", cw.path)
	cw.callback(pool)
}

// Stop stops the watcher and releases its underlying file descriptor.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
