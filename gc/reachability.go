package gc

import (
	"context"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/sets/treeset"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// CollectReachableObjects performs a breadth-first walk from wants
// through commit→(tree, parents), tree→(entries, recursively), and
// tag→(object), skipping anything in the ancestor closure of excludes.
// Each BFS level's frontier is expanded concurrently on a bounded
// worker pool (Options.Concurrency); the shared visited set is a
// mutex-guarded ordered set, so two workers racing to discover the same
// descendant (a shared subtree, a common ancestor) dedupe safely and
// only one of them recurses into it.
func (g *GCController) CollectReachableObjects(ctx context.Context, wants, excludes []object.ID) (*treeset.Set, error) {
	excludeClosure, err := g.ancestorClosure(ctx, excludes)
	if err != nil {
		return nil, err
	}

	visited := newIDSet()
	var mu sync.Mutex

	claim := func(id object.ID) bool {
		mu.Lock()
		defer mu.Unlock()
		if excludeClosure.Contains(id) || visited.Contains(id) {
			return false
		}
		visited.Add(id)
		return true
	}

	frontier := dedupeIDs(wants)
	for len(frontier) > 0 {
		grp, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(int64(g.opts.Concurrency))

		var nextMu sync.Mutex
		var next []object.ID

		for _, id := range frontier {
			id := id
			if !claim(id) {
				continue
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
			}
			grp.Go(func() error {
				defer sem.Release(1)
				children, gitlinks, err := g.children(gctx, id)
				if err != nil {
					return err
				}
				for _, gl := range gitlinks {
					claim(gl) // reachable, but never expanded: no object backs it in this store
				}
				nextMu.Lock()
				next = append(next, children...)
				nextMu.Unlock()
				return nil
			})
		}

		if err := grp.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}

	return visited, nil
}

// children returns id's direct graph successors per its object type,
// plus any gitlink (submodule) ids found along the way: those must be
// marked reachable but are never themselves expanded, since no object
// backs a foreign-repository commit in this store.
func (g *GCController) children(ctx context.Context, id object.ID) (kids, gitlinks []object.ID, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	hdr, err := g.objects.Header(id)
	if err != nil {
		return nil, nil, err
	}

	switch hdr.Type {
	case object.CommitType:
		c, err := g.objects.Commits.Load(id)
		if err != nil {
			return nil, nil, err
		}
		kids := make([]object.ID, 0, len(c.ParentIDs)+1)
		kids = append(kids, c.TreeID)
		kids = append(kids, c.ParentIDs...)
		return kids, nil, nil

	case object.TreeType:
		return g.treeChildren(id)

	case object.TagType:
		t, err := g.objects.Tags.Load(id)
		if err != nil {
			return nil, nil, err
		}
		return []object.ID{t.ObjectID}, nil, nil

	default:
		// blobs and anything else are leaves
		return nil, nil, nil
	}
}

func (g *GCController) treeChildren(id object.ID) (kids, gitlinks []object.ID, err error) {
	tree, err := g.objects.Trees.Load(id)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range tree.Entries {
		if e.Mode == object.Submodule {
			gitlinks = append(gitlinks, e.ID)
			continue
		}
		kids = append(kids, e.ID)
	}
	return kids, gitlinks, nil
}

// ancestorClosure expands excludes to include every reachable ancestor
// commit, so that e.g. "everything reachable from HEAD except what's
// already in origin/main" also excludes origin/main's own history.
func (g *GCController) ancestorClosure(ctx context.Context, excludes []object.ID) (*treeset.Set, error) {
	closure := newIDSet()
	frontier := dedupeIDs(excludes)

	for len(frontier) > 0 {
		var next []object.ID
		for _, id := range frontier {
			if closure.Contains(id) {
				continue
			}
			closure.Add(id)

			if err := ctx.Err(); err != nil {
				return nil, err
			}
			hdr, err := g.objects.Header(id)
			if err != nil {
				continue // a missing exclude tip just contributes nothing further
			}
			if hdr.Type != object.CommitType {
				continue
			}
			c, err := g.objects.Commits.Load(id)
			if err != nil {
				continue
			}
			next = append(next, c.ParentIDs...)
		}
		frontier = next
	}

	return closure, nil
}
