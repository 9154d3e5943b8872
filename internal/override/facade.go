package override

import (
	"fmt"
	"sync"
	"time"

	"funnel/internal/config"
	"funnel/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// notifyDebounce batches rapid successive mutations into one upstream
// tool_list_changed notification.
const notifyDebounce = 250 * time.Millisecond

// Facade wraps the override engine with runtime mutation. It maintains the
// canonical current override map and rebuilds a fresh engine atomically on
// every change, then notifies the proxy so caches refresh and the upstream
// learns the tool list changed.
type Facade struct {
	settings config.OverrideSettings

	mu      sync.RWMutex
	current map[string]config.ToolOverride
	engine  *Engine

	// onChanged is invoked (debounced) after every successful mutation.
	onChanged func()

	notifyMu    sync.Mutex
	notifyTimer *time.Timer

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFacade builds the facade over the statically configured overrides.
func NewFacade(initial map[string]config.ToolOverride, settings config.OverrideSettings, onChanged func()) *Facade {
	current := make(map[string]config.ToolOverride, len(initial))
	for k, v := range initial {
		current[k] = v
	}
	return &Facade{
		settings:  settings,
		current:   current,
		engine:    NewEngine(current),
		onChanged: onChanged,
		done:      make(chan struct{}),
	}
}

// Engine returns the current compiled engine. The returned engine is an
// immutable snapshot; readers need no locking.
func (f *Facade) Engine() *Engine {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.engine
}

// Current returns a copy of the canonical override map.
func (f *Facade) Current() map[string]config.ToolOverride {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]config.ToolOverride, len(f.current))
	for k, v := range f.current {
		out[k] = v
	}
	return out
}

// Set adds or replaces a single override. Invalid overrides are rejected
// when validation is enabled.
func (f *Facade) Set(name string, ov config.ToolOverride) error {
	if !f.settings.ApplyToDynamic {
		return fmt.Errorf("dynamic overrides are disabled")
	}
	if err := f.validate(name, ov); err != nil {
		return err
	}

	f.mu.Lock()
	f.current[name] = ov
	f.rebuildLocked()
	f.mu.Unlock()

	f.scheduleNotify()
	return nil
}

// Update merges a batch of overrides. Invalid entries are skipped with an
// error log; valid entries still apply.
func (f *Facade) Update(overrides map[string]config.ToolOverride) error {
	if !f.settings.ApplyToDynamic {
		return fmt.Errorf("dynamic overrides are disabled")
	}

	applied := 0
	f.mu.Lock()
	for name, ov := range overrides {
		if err := f.validate(name, ov); err != nil {
			logging.Error("Override", err, "Skipping invalid override %q", name)
			continue
		}
		f.current[name] = ov
		applied++
	}
	if applied > 0 {
		f.rebuildLocked()
	}
	f.mu.Unlock()

	if applied > 0 {
		f.scheduleNotify()
	}
	return nil
}

// Remove deletes an override by its pattern.
func (f *Facade) Remove(name string) error {
	if !f.settings.ApplyToDynamic {
		return fmt.Errorf("dynamic overrides are disabled")
	}

	f.mu.Lock()
	if _, ok := f.current[name]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("no override for %q", name)
	}
	delete(f.current, name)
	f.rebuildLocked()
	f.mu.Unlock()

	f.scheduleNotify()
	return nil
}

// Clear removes every override.
func (f *Facade) Clear() error {
	if !f.settings.ApplyToDynamic {
		return fmt.Errorf("dynamic overrides are disabled")
	}

	f.mu.Lock()
	f.current = make(map[string]config.ToolOverride)
	f.rebuildLocked()
	f.mu.Unlock()

	f.scheduleNotify()
	return nil
}

// rebuildLocked swaps a freshly compiled engine in. Caller holds f.mu.
func (f *Facade) rebuildLocked() {
	f.engine = NewEngine(f.current)
}

// validate checks one mutation against a synthetic minimal tool. Blocking
// errors reject the mutation; warnings are logged and allowed through.
func (f *Facade) validate(name string, ov config.ToolOverride) error {
	if !f.settings.ValidateOverrides {
		return nil
	}

	probe := NewEngine(map[string]config.ToolOverride{name: ov})
	original := syntheticTool(name)
	overridden, visible := probe.Apply(original, name)
	if !visible {
		return nil
	}
	result := ValidateOverride(original, overridden)
	for _, w := range result.Warnings {
		logging.Warn("Override", "Override %q: %s", name, w)
	}
	if !result.OK() {
		return fmt.Errorf("invalid override %q: %s", name, result.Errors[0])
	}
	return nil
}

// scheduleNotify fires onChanged once per settle window.
func (f *Facade) scheduleNotify() {
	if f.onChanged == nil {
		return
	}
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	if f.notifyTimer != nil {
		f.notifyTimer.Stop()
	}
	f.notifyTimer = time.AfterFunc(notifyDebounce, f.onChanged)
}

// WatchFile merges the overrides in a YAML file into the table through
// Update whenever the file is written or created. Entries that disappear
// from the file stay in effect, and reloads fail while dynamic overrides are
// disabled. Parse failures keep the previous table.
func (f *Facade) WatchFile(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create override watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	f.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				overrides, err := config.LoadOverridesFile(path)
				if err != nil {
					logging.Error("Override", err, "Ignoring unparseable overrides file change")
					continue
				}
				if err := f.Update(overrides); err != nil {
					logging.Error("Override", err, "Failed to apply overrides from %s", path)
				} else {
					logging.Info("Override", "Reloaded overrides from %s", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Override", "Override watcher error: %v", err)
			case <-f.done:
				return
			}
		}
	}()

	logging.Info("Override", "Watching %s for override changes", path)
	return nil
}

// Close releases the file watcher and any pending notification timer.
func (f *Facade) Close() {
	close(f.done)
	if f.watcher != nil {
		f.watcher.Close()
	}
	f.notifyMu.Lock()
	if f.notifyTimer != nil {
		f.notifyTimer.Stop()
	}
	f.notifyMu.Unlock()
}
