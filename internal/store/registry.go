package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"formsense/internal/decision"
	"formsense/internal/logging"
	"formsense/internal/rules"
)

// Registry serves rules and trees from YAML files on disk:
//
//	<dir>/rules.yaml   - list of validation rules
//	<dir>/trees/*.yaml - one decision tree per file
//
// Content is loaded into an immutable snapshot; Watch swaps in a new
// snapshot when files change, so an in-flight processing run keeps
// the snapshot it started with.
type Registry struct {
	dir string

	mu   sync.RWMutex
	snap registrySnapshot

	watcher     *fsnotify.Watcher
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

type registrySnapshot struct {
	rules []rules.Rule
	trees []decision.DecisionTree
}

// NewRegistry loads the registry directory. A missing directory is not
// an error: the registry starts empty and populates on first reload.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every registry file and swaps the snapshot.
func (r *Registry) Reload() error {
	snap := registrySnapshot{}

	rulesPath := filepath.Join(r.dir, "rules.yaml")
	if data, err := os.ReadFile(rulesPath); err == nil {
		var loaded []rules.Rule
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to parse %s: %w", rulesPath, err)
		}
		snap.rules = loaded
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", rulesPath, err)
	}

	treesDir := filepath.Join(r.dir, "trees")
	entries, err := os.ReadDir(treesDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", treesDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(treesDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		var tree decision.DecisionTree
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		// A malformed tree keeps the previous snapshot intact rather
		// than serving a half-working graph.
		if err := tree.Validate(); err != nil {
			return fmt.Errorf("invalid tree in %s: %w", path, err)
		}
		snap.trees = append(snap.trees, tree)
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	logging.Store("registry loaded: %d rule(s), %d tree(s) from %s", len(snap.rules), len(snap.trees), r.dir)
	return nil
}

// ActiveRules returns the enabled rules from the current snapshot.
func (r *Registry) ActiveRules(ctx context.Context) ([]rules.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]rules.Rule, 0, len(r.snap.rules))
	for _, rule := range r.snap.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

// TreesForPhase returns the snapshot trees applicable to the phase.
func (r *Registry) TreesForPhase(ctx context.Context, phase string) ([]decision.DecisionTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []decision.DecisionTree
	for _, tree := range r.snap.trees {
		if tree.AppliesToPhase(phase) {
			out = append(out, tree)
		}
	}
	return out, nil
}

// Watch starts hot-reloading on file changes. Non-blocking; Stop ends
// the watch loop.
func (r *Registry) Watch(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	// Fresh channels per watch cycle so Watch can restart after Stop.
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create registry watcher: %w", err)
	}
	r.watcher = watcher

	if err := watcher.Add(r.dir); err != nil {
		logging.StoreError("registry watch failed for %s: %v", r.dir, err)
	}
	treesDir := filepath.Join(r.dir, "trees")
	if _, err := os.Stat(treesDir); err == nil {
		if err := watcher.Add(treesDir); err != nil {
			logging.StoreError("registry watch failed for %s: %v", treesDir, err)
		}
	}

	go r.run(ctx, r.stopCh, r.doneCh)
	return nil
}

// Stop ends the watch loop and waits for it to drain.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	if err := r.watcher.Close(); err != nil {
		logging.StoreError("error closing registry watcher: %v", err)
	}
}

func (r *Registry) run(ctx context.Context, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.StoreError("registry watcher error: %v", err)
		case <-debounceTicker.C:
			r.reloadDebounced()
		}
	}
}

// handleEvent records a change for debounced reloading. Rapid saves
// from editors collapse into one reload.
func (r *Registry) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	r.mu.Lock()
	r.debounceMap[event.Name] = time.Now()
	r.mu.Unlock()
}

func (r *Registry) reloadDebounced() {
	r.mu.Lock()
	now := time.Now()
	settled := false
	for path, eventTime := range r.debounceMap {
		if now.Sub(eventTime) >= r.debounceDur {
			delete(r.debounceMap, path)
			settled = true
		}
	}
	r.mu.Unlock()

	if !settled {
		return
	}
	if err := r.Reload(); err != nil {
		// Keep the last good snapshot on a bad edit.
		logging.StoreError("registry reload failed, keeping previous snapshot: %v", err)
	}
}
