package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Provider holds the live configuration and publishes changes to
// waiters (§4.12). The RW discipline is: callers take current() under
// a shared lock for the length of one statement, never holding it
// across a suspension point.
type Provider struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	current Config
	waitCh  chan struct{} // closed and replaced on every reload
}

// NewProvider wraps an already-loaded configuration.
func NewProvider(initial Config, log *zap.SugaredLogger) *Provider {
	return &Provider{log: log, current: initial, waitCh: make(chan struct{})}
}

// Current returns the live configuration. The returned value is a
// clone; mutating it has no effect on the provider.
func (p *Provider) Current() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// Reload publishes a new configuration and wakes every goroutine
// blocked in OnReload.
func (p *Provider) Reload(next Config) {
	p.mu.Lock()
	p.current = next
	old := p.waitCh
	p.waitCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// OnReload blocks until the next Reload call publishes a value, then
// returns it. Each call observes exactly one future publication.
func (p *Provider) OnReload() Config {
	p.mu.RLock()
	ch := p.waitCh
	p.mu.RUnlock()
	<-ch
	return p.Current()
}

// WatchFile watches path for writes and invokes onChange with the
// freshly loaded config. It never calls Reload itself; the caller
// decides what a file change means. Nothing in the proxy binary calls
// WatchFile: reloads come from the console, SIGHUP or POST /reload.
// Errors from the watcher are logged and do not stop the loop; a
// failed re-load of the file leaves the provider untouched.
func WatchFile(path string, log *zap.SugaredLogger, onChange func(Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &ConfigError{Op: "watch", Err: err}
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, &ConfigError{Op: "watch", Err: err}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors often replace-then-write; give the new
				// content a moment to land before reading it back.
				time.Sleep(100 * time.Millisecond)
				cfg, err := Load(path)
				if err != nil {
					log.Warnw("config file changed but failed to reload", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("config watcher error", "error", werr)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
