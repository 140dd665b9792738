package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// PolicyDefaults holds the guild policy applied to guilds without a stored
// row. It is read from a YAML file and can hot-reload it.
type PolicyDefaults struct {
	path     string
	fallback domain.GuildPolicy
	logger   *slog.Logger

	mu       sync.RWMutex
	current  domain.GuildPolicy
	onChange []func(domain.GuildPolicy)
}

// NewPolicyDefaults performs the initial load. An empty path yields fallback
// and never reloads.
func NewPolicyDefaults(path string, fallback domain.GuildPolicy, logger *slog.Logger) (*PolicyDefaults, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &PolicyDefaults{path: path, fallback: fallback, logger: logger, current: fallback}
	if path == "" {
		return d, nil
	}
	p, err := d.load()
	if err != nil {
		return nil, err
	}
	d.current = p
	return d, nil
}

// Policy returns the current defaults.
func (d *PolicyDefaults) Policy() domain.GuildPolicy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// OnChange registers a callback invoked after every successful reload.
func (d *PolicyDefaults) OnChange(fn func(domain.GuildPolicy)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = append(d.onChange, fn)
}

// Watch reloads the file whenever it is written or replaced. Call the
// returned stop function to clean up.
func (d *PolicyDefaults) Watch() (stop func(), err error) {
	if d.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy watcher: %w", err)
	}
	if err := w.Add(d.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("policy watcher add %s: %w", d.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := d.Reload(); err != nil {
						d.logger.Warn("policy defaults reload failed, keeping previous", "path", d.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn("policy watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the file.
func (d *PolicyDefaults) Reload() (domain.GuildPolicy, error) {
	p, err := d.load()
	if err != nil {
		return domain.GuildPolicy{}, err
	}
	d.mu.Lock()
	d.current = p
	callbacks := make([]func(domain.GuildPolicy), len(d.onChange))
	copy(callbacks, d.onChange)
	d.mu.Unlock()

	d.logger.Info("policy defaults reloaded", "path", d.path)
	for _, fn := range callbacks {
		fn(p)
	}
	return p, nil
}

func (d *PolicyDefaults) load() (domain.GuildPolicy, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return domain.GuildPolicy{}, fmt.Errorf("read policy defaults %s: %w", d.path, err)
	}
	p := d.fallback
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.GuildPolicy{}, fmt.Errorf("parse policy defaults %s: %w", d.path, err)
	}
	if p.VoicePermissionMode == "" {
		p.VoicePermissionMode = domain.VoiceAttendees
	}
	if !p.VoicePermissionMode.Valid() {
		return domain.GuildPolicy{}, fmt.Errorf("policy defaults %s: unknown voice_permission_mode %q", d.path, p.VoicePermissionMode)
	}
	if p.RetentionDays < 0 {
		return domain.GuildPolicy{}, fmt.Errorf("policy defaults %s: retention_days must not be negative", d.path)
	}
	return p, nil
}
