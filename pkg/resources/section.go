package resources

import (
	"context"
	"time"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

// sectionClient manages one field of a JSON object that is read and
// written as a whole with GET and PUT on the same path.
type sectionClient struct {
	api  API
	kind reconcile.Kind
	path func(scope reconcile.Scope) (string, error)

	// extract returns the managed records of doc.
	extract func(doc map[string]any) []reconcile.Record
	// compose returns a copy of doc holding final as its managed records.
	compose func(doc map[string]any, final []reconcile.Record) (map[string]any, error)

	now func() time.Time
}

func (c *sectionClient) Kind() reconcile.Kind { return c.kind }

func (c *sectionClient) Fetch(ctx context.Context, scope reconcile.Scope) (*reconcile.ExistingState, error) {
	p, err := c.path(scope)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := c.api.Get(ctx, p, nil, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return &reconcile.ExistingState{
		Scope:     scope,
		Records:   c.extract(doc),
		Document:  doc,
		FetchedAt: c.now().UTC(),
	}, nil
}

func (c *sectionClient) Compose(existing *reconcile.ExistingState, final []reconcile.Record) (any, error) {
	doc, err := docOf(existing)
	if err != nil {
		return nil, err
	}
	return c.compose(doc, final)
}

func (c *sectionClient) Apply(ctx context.Context, scope reconcile.Scope, existing *reconcile.ExistingState, plan *reconcile.MergeResult, done reconcile.ApplyResult) (reconcile.ApplyResult, error) {
	if done.Requests > 0 {
		return done, nil
	}
	final, err := plan.Final()
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	payload, err := c.Compose(existing, final)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	p, err := c.path(scope)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	if err := c.api.Put(ctx, p, payload, nil); err != nil {
		return reconcile.ApplyResult{}, err
	}
	return resultOf(plan, 1), nil
}

// Restore writes the snapshot document with its records recomposed, so
// sections the vendor maintains itself are stripped again.
func (c *sectionClient) Restore(ctx context.Context, scope reconcile.Scope, _, snapshot *reconcile.ExistingState) (reconcile.ApplyResult, error) {
	doc, err := docOf(snapshot)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	payload, err := c.compose(doc, snapshot.Records)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	p, err := c.path(scope)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	if err := c.api.Put(ctx, p, payload, nil); err != nil {
		return reconcile.ApplyResult{}, err
	}
	return reconcile.ApplyResult{Requests: 1, Updated: 1}, nil
}

// listSection extracts and replaces a top-level list field.
func listSection(field string) (func(map[string]any) []reconcile.Record, func(map[string]any, []reconcile.Record) (map[string]any, error)) {
	extract := func(doc map[string]any) []reconcile.Record {
		return records(doc[field])
	}
	compose := func(doc map[string]any, final []reconcile.Record) (map[string]any, error) {
		out := cloneDoc(doc)
		out[field] = toList(final)
		return out, nil
	}
	return extract, compose
}
