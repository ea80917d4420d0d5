package gitcore

import (
	"context"
	"errors"

	"github.com/opencore-vcs/gitcore/errs"
	"github.com/opencore-vcs/gitcore/object"
)

// ConsolidateDeltas rewrites as whole objects every delta whose chain
// depth exceeds the configured maxChainDepth or whose recorded base has
// fallen out of the reachable set, per spec.md's "optional
// consolidation" repack step. It returns how many deltas were
// rewritten. Callers typically run this right after a GCController.RunGC
// pass, so the reachable set used here reflects the same ref tips.
func (r *Repository) ConsolidateDeltas(ctx context.Context) (int, error) {
	reachable, err := r.GC.ReachableFromRefs(ctx)
	if err != nil {
		return 0, err
	}
	maxDepth := r.GC.MaxChainDepth()

	records := r.deltas.Records()
	packNameByTarget := make(map[object.ID]string, len(records))
	for _, rec := range records {
		packNameByTarget[rec.TargetKey] = rec.PackName
	}

	var candidates []object.ID
	for _, rec := range records {
		_, err := r.deltas.GetDeltaChainInfo(rec.TargetKey, maxDepth)
		tooDeep := err != nil && errors.Is(err, errs.ErrCorruptPack)
		baseUnreachable := !reachable.Contains(rec.BaseKey)
		if tooDeep || baseUnreachable {
			candidates = append(candidates, rec.TargetKey)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range candidates {
		pf, err := r.packDir.Open(packNameByTarget[id])
		if err != nil {
			return 0, err
		}
		content, typ, err := pf.Get(id)
		if err != nil {
			return 0, err
		}
		r.batch.StoreObject(id, typ, content)
	}

	batch := r.batch
	r.batch = r.deltas.StartUpdate()
	r.pendingSize = 0
	if err := batch.Close(ctx); err != nil {
		return 0, err
	}

	for _, id := range candidates {
		r.deltas.RemoveDelta(id)
	}
	return len(candidates), nil
}
