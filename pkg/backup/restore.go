package backup

import (
	"context"
	"fmt"

	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// Target is a resource client that can write a whole document back.
type Target interface {
	Kind() reconcile.Kind
	Fetch(ctx context.Context, scope reconcile.Scope) (*reconcile.ExistingState, error)
	Restore(ctx context.Context, scope reconcile.Scope, current, snapshot *reconcile.ExistingState) (reconcile.ApplyResult, error)
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	Source   string                `json:"source"`
	Snapshot string                `json:"snapshot"` // pre-restore state
	Scope    reconcile.Scope       `json:"scope"`
	Applied  reconcile.ApplyResult `json:"applied"`
}

// Restore writes the snapshot stored under handle back to its scope. The
// current state is fetched and snapshotted first; if that fails nothing
// is written.
func (s *Store) Restore(ctx context.Context, handle string, target Target) (*RestoreResult, error) {
	snap, err := s.Load(ctx, handle)
	if err != nil {
		return nil, err
	}
	if snap.Scope.Kind != target.Kind() {
		return nil, fmt.Errorf("%w: snapshot %s holds %s, not %s",
			util.ErrValidationFailed, handle, snap.Scope.Kind, target.Kind())
	}
	log := util.WithScope(string(snap.Scope.Kind), snap.Scope.ID).WithField("source", handle)

	current, err := target.Fetch(ctx, snap.Scope)
	if err != nil {
		return nil, fmt.Errorf("fetching current state of %s: %w", snap.Scope, err)
	}
	pre, err := s.Save(ctx, snap.Scope, current)
	if err != nil {
		return nil, err
	}
	log.WithField("snapshot", pre).Info("restoring snapshot")

	applied, err := target.Restore(ctx, snap.Scope, current, snap.State())
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", snap.Scope, err)
	}
	return &RestoreResult{Source: handle, Snapshot: pre, Scope: snap.Scope, Applied: applied}, nil
}
