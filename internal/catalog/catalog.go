package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// Package catalog provides the process-scoped metric catalog cache.
//
// The catalog is the read-mostly shared state between query serving and the
// scan engine: metric definitions (names, aliases, targets, weights,
// directions) from configuration joined with the scopes actually present in
// the store. Readers take an immutable snapshot; a refresh builds a complete
// new snapshot and swaps it in atomically, so a refresh in progress never
// serves a half-updated view.

// MetricDef is one tracked KPI definition.
type MetricDef struct {
	Name        string
	DisplayName string
	Aliases     []string
	Unit        string
	Target      float64
	Weight      float64
	// Direction is "higher_better" or "lower_better".
	Direction string
}

// LowerBetter reports whether adverse movement for this metric is upward.
func (d MetricDef) LowerBetter() bool { return d.Direction == "lower_better" }

// Snapshot is an immutable view of the catalog. All fields are read-only
// after construction; never mutate a snapshot in place.
type Snapshot struct {
	metrics  []MetricDef
	byName   map[string]MetricDef
	byAlias  map[string]string // normalized alias -> metric name
	scopes   []string
	scopeSet map[string]bool
}

// Metrics returns all metric definitions, ordered by name.
func (s *Snapshot) Metrics() []MetricDef { return s.metrics }

// Scopes returns all known scope IDs, sorted.
func (s *Snapshot) Scopes() []string { return s.scopes }

// HasScope reports whether a scope ID is known.
func (s *Snapshot) HasScope(id string) bool { return s.scopeSet[id] }

// Lookup resolves a metric reference (canonical name, display name, or alias)
// to its definition.
func (s *Snapshot) Lookup(ref string) (MetricDef, bool) {
	norm := normalize(ref)
	if d, ok := s.byName[norm]; ok {
		return d, true
	}
	if name, ok := s.byAlias[norm]; ok {
		return s.byName[name], true
	}
	return MetricDef{}, false
}

// AliasIndex returns every normalized phrase that resolves to a metric,
// mapped to the canonical metric name. The classifier matches against this.
func (s *Snapshot) AliasIndex() map[string]string {
	out := make(map[string]string, len(s.byAlias)+len(s.byName))
	for alias, name := range s.byAlias {
		out[alias] = name
	}
	for name := range s.byName {
		out[name] = name
	}
	return out
}

// Catalog holds the current snapshot and rebuilds it on demand.
type Catalog struct {
	st store.ObservationStore

	current   atomic.Value // *Snapshot
	refreshMu sync.Mutex   // single refresher at a time

	policiesMu sync.RWMutex
	policies   []config.MetricPolicy
}

// New creates a catalog over the given observation store and initial policy
// set. Call Refresh before first use.
func New(st store.ObservationStore, policies []config.MetricPolicy) *Catalog {
	c := &Catalog{st: st}
	c.policies = append([]config.MetricPolicy(nil), policies...)
	c.current.Store(emptySnapshot())
	return c
}

// Snapshot returns the current immutable catalog view. Safe for concurrent
// use; never nil.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load().(*Snapshot)
}

// UpdatePolicies replaces the metric policy set (config hot reload) and
// rebuilds the snapshot.
func (c *Catalog) UpdatePolicies(ctx context.Context, policies []config.MetricPolicy) error {
	c.policiesMu.Lock()
	c.policies = append([]config.MetricPolicy(nil), policies...)
	c.policiesMu.Unlock()
	return c.Refresh(ctx)
}

// Refresh rebuilds the snapshot from configuration and the store, then swaps
// it in. Concurrent readers keep the previous snapshot until the swap.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.policiesMu.RLock()
	policies := append([]config.MetricPolicy(nil), c.policies...)
	c.policiesMu.RUnlock()

	snap, err := build(ctx, c.st, policies)
	if err != nil {
		return err
	}
	c.current.Store(snap)
	return nil
}

func build(ctx context.Context, st store.ObservationStore, policies []config.MetricPolicy) (*Snapshot, error) {
	snap := &Snapshot{
		byName:   make(map[string]MetricDef, len(policies)),
		byAlias:  make(map[string]string),
		scopeSet: make(map[string]bool),
	}

	for _, p := range policies {
		def := MetricDef{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Aliases:     append([]string(nil), p.Aliases...),
			Unit:        p.Unit,
			Target:      p.Target,
			Weight:      p.Weight,
			Direction:   p.Direction,
		}
		snap.metrics = append(snap.metrics, def)
		snap.byName[normalize(p.Name)] = def
		if p.DisplayName != "" {
			snap.byAlias[normalize(p.DisplayName)] = normalize(p.Name)
		}
		for _, a := range p.Aliases {
			snap.byAlias[normalize(a)] = normalize(p.Name)
		}
	}
	sort.Slice(snap.metrics, func(i, j int) bool { return snap.metrics[i].Name < snap.metrics[j].Name })

	keys, err := st.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	for _, k := range keys {
		if !snap.scopeSet[k.ScopeID] {
			snap.scopeSet[k.ScopeID] = true
			snap.scopes = append(snap.scopes, k.ScopeID)
		}
	}
	sort.Strings(snap.scopes)

	return snap, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byName:   map[string]MetricDef{},
		byAlias:  map[string]string{},
		scopeSet: map[string]bool{},
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
