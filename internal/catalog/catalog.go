// Package catalog manages the registry of capability specs.
//
// The registry keeps a validated in-memory view of every registered
// capability backed by the persistent store, so question planning never
// blocks on storage for catalog lookups.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// Registry maps tool names to capability specs.
type Registry struct {
	specs map[string]models.CapabilitySpec
	mu    sync.RWMutex
	store store.Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(st store.Store) *Registry {
	return &Registry{
		specs: make(map[string]models.CapabilitySpec),
		store: st,
	}
}

// Load populates the in-memory view from the store. Called once at startup.
func (r *Registry) Load() error {
	specs, err := r.store.ListCapabilities()
	if err != nil {
		return fmt.Errorf("failed to load capabilities from store: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			// A stored spec that no longer validates is skipped, not fatal.
			slog.Warn("Registry.Load: skipping invalid stored capability", "toolName", spec.ToolName, "error", err)
			continue
		}
		r.specs[spec.ToolName] = spec
	}
	slog.Info("Registry.Load: capabilities loaded", "count", len(r.specs))
	return nil
}

// Register validates and persists a capability spec, replacing any existing
// spec with the same tool name.
func (r *Registry) Register(spec models.CapabilitySpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid capability spec: %w", err)
	}
	if err := r.store.SaveCapability(spec); err != nil {
		return fmt.Errorf("failed to persist capability %s: %w", spec.ToolName, err)
	}

	r.mu.Lock()
	r.specs[spec.ToolName] = spec
	r.mu.Unlock()

	slog.Info("Registry.Register: capability registered", "toolName", spec.ToolName, "fields", len(spec.Fields))
	return nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(toolName string) (models.CapabilitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[toolName]
	return spec, ok
}

// List returns all registered specs sorted by tool name.
func (r *Registry) List() []models.CapabilitySpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]models.CapabilitySpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ToolName < specs[j].ToolName })
	return specs
}

// Delete unregisters a capability.
func (r *Registry) Delete(toolName string) error {
	if err := r.store.DeleteCapability(toolName); err != nil {
		return fmt.Errorf("failed to delete capability %s: %w", toolName, err)
	}
	r.mu.Lock()
	delete(r.specs, toolName)
	r.mu.Unlock()
	slog.Info("Registry.Delete: capability unregistered", "toolName", toolName)
	return nil
}

// LoadFile registers every capability spec from a JSON file containing an
// array of CapabilitySpec. Used for startup seeding via the -capabilities flag.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read capabilities file: %w", err)
	}
	var specs []models.CapabilitySpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("failed to parse capabilities file %s: %w", path, err)
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return fmt.Errorf("failed to register capability from %s: %w", path, err)
		}
	}
	slog.Info("Registry.LoadFile: capabilities seeded", "path", path, "count", len(specs))
	return nil
}
