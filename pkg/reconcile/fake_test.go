package reconcile

import (
	"context"
	"sync"

	"github.com/merakimate/merakimate/pkg/util"
)

// fakeClient serves scopes from an in-memory map and records every call.
type fakeClient struct {
	mu        sync.Mutex
	kind      Kind
	state     map[string][]Record
	fetchErrs map[string][]error // consumed one per call
	applyErrs map[string][]error
	fetches   map[string]int
	applies   map[string]int
	log       *[]string
}

func newFakeClient(kind Kind) *fakeClient {
	return &fakeClient{
		kind:      kind,
		state:     map[string][]Record{},
		fetchErrs: map[string][]error{},
		applyErrs: map[string][]error{},
		fetches:   map[string]int{},
		applies:   map[string]int{},
	}
}

func (f *fakeClient) Kind() Kind { return f.kind }

func (f *fakeClient) record(event string) {
	if f.log != nil {
		*f.log = append(*f.log, event)
	}
}

func (f *fakeClient) Fetch(_ context.Context, scope Scope) (*ExistingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[scope.ID]++
	f.record("fetch:" + scope.ID)
	if errs := f.fetchErrs[scope.ID]; len(errs) > 0 {
		f.fetchErrs[scope.ID] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	recs, ok := f.state[scope.ID]
	if !ok {
		return nil, util.ErrNotFound
	}
	doc := make([]any, len(recs))
	for i, r := range recs {
		doc[i] = map[string]any(r)
	}
	return &ExistingState{Scope: scope, Records: recs, Document: map[string]any{"rules": doc}}, nil
}

func (f *fakeClient) Compose(_ *ExistingState, final []Record) (any, error) {
	doc := make([]any, len(final))
	for i, r := range final {
		doc[i] = map[string]any(r)
	}
	return map[string]any{"rules": doc}, nil
}

func (f *fakeClient) Apply(_ context.Context, scope Scope, _ *ExistingState, plan *MergeResult, _ ApplyResult) (ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies[scope.ID]++
	f.record("apply:" + scope.ID)
	if errs := f.applyErrs[scope.ID]; len(errs) > 0 {
		f.applyErrs[scope.ID] = errs[1:]
		if errs[0] != nil {
			return ApplyResult{}, errs[0]
		}
	}
	final, err := plan.Final()
	if err != nil {
		return ApplyResult{}, err
	}
	f.state[scope.ID] = final
	return ApplyResult{Requests: 1, Updated: 1}, nil
}

// fakeBackup stores snapshots in memory or fails on demand.
type fakeBackup struct {
	mu    sync.Mutex
	err   error
	saved []Scope
	log   *[]string
}

func (b *fakeBackup) Save(_ context.Context, scope Scope, _ *ExistingState) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.log != nil {
		*b.log = append(*b.log, "backup:"+scope.ID)
	}
	if b.err != nil {
		return "", util.NewStorageError("put", scope.String(), b.err)
	}
	b.saved = append(b.saved, scope)
	return string(scope.Kind) + "/" + scope.ID + "_20260102T030405Z.json", nil
}

// recordingObserver captures transitions per scope.
type recordingObserver struct {
	mu          sync.Mutex
	transitions map[string][]State
	outcomes    []*Outcome
}

func (r *recordingObserver) OnTransition(scope Scope, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions == nil {
		r.transitions = map[string][]State{}
	}
	r.transitions[scope.ID] = append(r.transitions[scope.ID], state)
}

func (r *recordingObserver) OnOutcome(o *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func excl(proto, dest, port string) Record {
	return Record{"protocol": proto, "destination": dest, "port": port}
}

var exclKey = IdentityKey{"protocol", "destination", "port"}
