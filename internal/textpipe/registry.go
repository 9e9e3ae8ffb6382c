package textpipe

import (
	"fmt"
	"sync"
)

// StageFactory constructs a fresh stage instance.
type StageFactory func() Stage

// RegisterOptions control where a stage lands in the order.
type RegisterOptions struct {
	// Before inserts the stage ahead of the named anchor. When the anchor is
	// absent the stage is appended.
	Before string
	// After inserts the stage right behind the named anchor.
	After string
	// Replace removes any existing stage with the same name first.
	Replace bool
}

type registryEntry struct {
	name    string
	factory StageFactory
}

// Registry holds an ordered, versioned set of stage factories. The default
// pipeline is memoized and rebuilt when the version advances.
type Registry struct {
	mu          sync.Mutex
	entries     []registryEntry
	version     int
	memo        *Pipeline
	memoVersion int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{memoVersion: -1}
}

// NewDefaultRegistry returns a registry preloaded with the built-in stages
// in their canonical order.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(name string, f StageFactory) {
		if err := r.Register(name, f, RegisterOptions{}); err != nil {
			panic(err)
		}
	}
	must(StagePreflight, func() Stage { return &PreflightStage{} })
	must(StageLLMArtifacts, func() Stage { return &LLMArtifactsStage{} })
	must(StageReferenceLinks, func() Stage { return &ReferenceLinksStage{} })
	must(StageTypography, func() Stage { return &TypographyStage{} })
	must(StageFinalCleanup, func() Stage { return &FinalCleanupStage{} })
	return r
}

// Register adds a named stage factory. Registering an existing name without
// Replace fails.
func (r *Registry) Register(name string, factory StageFactory, opts RegisterOptions) error {
	if name == "" {
		return fmt.Errorf("stage name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Replace {
		filtered := r.entries[:0]
		for _, e := range r.entries {
			if e.name != name {
				filtered = append(filtered, e)
			}
		}
		r.entries = filtered
	} else {
		for _, e := range r.entries {
			if e.name == name {
				return fmt.Errorf("stage %q already registered", name)
			}
		}
	}

	entry := registryEntry{name: name, factory: factory}
	switch {
	case opts.Before != "":
		r.insertAt(entry, opts.Before, 0)
	case opts.After != "":
		r.insertAt(entry, opts.After, 1)
	default:
		r.entries = append(r.entries, entry)
	}
	r.version++
	return nil
}

func (r *Registry) insertAt(entry registryEntry, anchor string, offset int) {
	for i, e := range r.entries {
		if e.name == anchor {
			idx := i + offset
			r.entries = append(r.entries, registryEntry{})
			copy(r.entries[idx+1:], r.entries[idx:])
			r.entries[idx] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

// StageNames lists the registered names in order.
func (r *Registry) StageNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Version returns the registration counter.
func (r *Registry) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Pipeline returns the default pipeline, rebuilding it only when the
// registry changed since the last call.
func (r *Registry) Pipeline() *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memo != nil && r.memoVersion == r.version {
		return r.memo
	}
	stages := make([]Stage, len(r.entries))
	for i, e := range r.entries {
		stages[i] = e.factory()
	}
	r.memo = NewPipeline(stages...)
	r.memoVersion = r.version
	return r.memo
}
