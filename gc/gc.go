// Package gc implements mark-and-sweep garbage collection over the
// object graph: reachability from ref tips and pruning of unreferenced
// loose objects. Delta chain consolidation is not done here; the root
// package's Repository.ConsolidateDeltas uses this package's reachable set.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/treeset"

	"github.com/opencore-vcs/gitcore/object"
	"github.com/opencore-vcs/gitcore/objectstore"
	"github.com/opencore-vcs/gitcore/refs"
)

// DefaultMaxChainDepth mirrors pack.DefaultMaxChainDepth without
// importing the pack package directly, keeping gc decoupled from the
// pack wire format.
const DefaultMaxChainDepth = 50

// Options tunes when ShouldRunGC fires and how RunGC behaves.
type Options struct {
	MinInterval          time.Duration
	LooseObjectThreshold int
	PendingBlobThreshold int
	MaxChainDepth        int
	Concurrency          int
	DryRun               bool
}

// DefaultOptions matches the thresholds named in the spec.
var DefaultOptions = Options{
	MinInterval:          1 * time.Hour,
	LooseObjectThreshold: 6700,
	PendingBlobThreshold: 50,
	MaxChainDepth:        DefaultMaxChainDepth,
	Concurrency:          8,
}

func (o Options) withDefaults() Options {
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultOptions.MinInterval
	}
	if o.LooseObjectThreshold <= 0 {
		o.LooseObjectThreshold = DefaultOptions.LooseObjectThreshold
	}
	if o.PendingBlobThreshold <= 0 {
		o.PendingBlobThreshold = DefaultOptions.PendingBlobThreshold
	}
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = DefaultOptions.MaxChainDepth
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultOptions.Concurrency
	}
	return o
}

// StagingProtector lets an embedding staging area (if present) protect
// its working entries from collection by contributing their identities
// to the reachable set. No implementation lives in this core; it is an
// extension point for a collaborator outside this module's scope.
type StagingProtector interface {
	ProtectedObjectIDs() ([]object.ID, error)
}

// GCController coordinates reachability analysis and loose-object
// pruning over one repository's object graph.
type GCController struct {
	objects  *objectstore.ObjectStore
	refStore refs.RefStore
	staging  StagingProtector

	opts Options

	mu           sync.Mutex
	lastRun      time.Time
	pendingBlobs int

	metrics *Metrics
}

// New builds a GCController over the given object store and ref store.
// staging may be nil when no staging area collaborator is present.
// metrics may be nil to disable Prometheus instrumentation.
func New(objects *objectstore.ObjectStore, refStore refs.RefStore, staging StagingProtector, opts Options, metrics *Metrics) *GCController {
	return &GCController{
		objects:  objects,
		refStore: refStore,
		staging:  staging,
		opts:     opts.withDefaults(),
		metrics:  metrics,
	}
}

// NotePendingBlob records that a blob was just written outside of a
// flushed pack, for ShouldRunGC's loose-object pressure heuristic.
func (g *GCController) NotePendingBlob() {
	g.mu.Lock()
	g.pendingBlobs++
	g.mu.Unlock()
}

// ShouldRunGC reports whether enough time has elapsed and enough loose
// pressure has built up to warrant a collection.
func (g *GCController) ShouldRunGC() (bool, error) {
	g.mu.Lock()
	last := g.lastRun
	pending := g.pendingBlobs
	g.mu.Unlock()

	if !last.IsZero() && time.Since(last) < g.opts.MinInterval {
		return false, nil
	}
	if pending >= g.opts.PendingBlobThreshold {
		return true, nil
	}
	ids, err := g.objects.List()
	if err != nil {
		return false, err
	}
	return len(ids) >= g.opts.LooseObjectThreshold, nil
}

// Report summarizes one RunGC pass.
type Report struct {
	Reachable int
	Scanned   int
	Removed   int
	Duration  time.Duration
	DryRun    bool
}

// RunGC computes reachability from every ref tip (excludeTips, if any,
// are expanded to their full ancestor closure and removed from the
// result) and then sweeps loose objects outside that closure.
func (g *GCController) RunGC(ctx context.Context, excludeTips []object.ID) (*Report, error) {
	start := time.Now()

	wants, err := g.refTipIDs()
	if err != nil {
		return nil, err
	}
	if g.staging != nil {
		protected, err := g.staging.ProtectedObjectIDs()
		if err != nil {
			return nil, err
		}
		wants = append(wants, protected...)
	}

	reachable, err := g.CollectReachableObjects(ctx, wants, excludeTips)
	if err != nil {
		return nil, err
	}

	report, err := g.CollectGarbage(reachable, g.opts.DryRun)
	if err != nil {
		return nil, err
	}
	report.Reachable = reachable.Size()
	report.Duration = time.Since(start)

	g.mu.Lock()
	g.lastRun = time.Now()
	g.pendingBlobs = 0
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.observeRun(report)
	}
	return report, nil
}

// MaxChainDepth returns the configured delta chain depth limit, for a
// repack driver deciding which deltas need consolidating.
func (g *GCController) MaxChainDepth() int { return g.opts.MaxChainDepth }

// ReachableFromRefs computes the full reachable set from every current
// ref tip (plus any staging-protected ids), the same set RunGC sweeps
// loose objects against — exposed for a repack driver that needs it
// without running a full collection pass.
func (g *GCController) ReachableFromRefs(ctx context.Context) (*treeset.Set, error) {
	wants, err := g.refTipIDs()
	if err != nil {
		return nil, err
	}
	if g.staging != nil {
		protected, err := g.staging.ProtectedObjectIDs()
		if err != nil {
			return nil, err
		}
		wants = append(wants, protected...)
	}
	return g.CollectReachableObjects(ctx, wants, nil)
}

func (g *GCController) refTipIDs() ([]object.ID, error) {
	all, err := g.refStore.List("")
	if err != nil {
		return nil, err
	}
	ids := make([]object.ID, 0, len(all))
	for _, r := range all {
		id, err := g.refStore.Resolve(r.Name)
		if err != nil {
			continue // a dangling ref shouldn't abort the whole walk
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func idComparator(a, b interface{}) int {
	ea, eb := a.(object.ID), b.(object.ID)
	return ea.Compare(eb)
}

func newIDSet() *treeset.Set {
	return treeset.NewWith(idComparator)
}

func dedupeIDs(ids []object.ID) []object.ID {
	set := newIDSet()
	out := make([]object.ID, 0, len(ids))
	for _, id := range ids {
		if set.Contains(id) {
			continue
		}
		set.Add(id)
		out = append(out, id)
	}
	return out
}

// CollectGarbage removes every loose object not present in reachable.
// In dry-run mode it reports what would be removed without deleting
// anything.
func (g *GCController) CollectGarbage(reachable *treeset.Set, dryRun bool) (*Report, error) {
	ids, err := g.objects.List()
	if err != nil {
		return nil, err
	}

	report := &Report{Scanned: len(ids), DryRun: dryRun}
	for _, id := range ids {
		if reachable.Contains(id) {
			continue
		}
		if dryRun {
			report.Removed++
			continue
		}
		removed, err := g.objects.Remove(id)
		if err != nil {
			return nil, err
		}
		if removed {
			report.Removed++
		}
	}
	return report, nil
}
