package resources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// collectionClient manages a REST collection where each record is its
// own resource: added records are POSTed, overwritten ones PUT and
// removed ones DELETEd.
type collectionClient struct {
	api  API
	kind reconcile.Kind

	list func(scope reconcile.Scope) (string, error)
	item func(scope reconcile.Scope, id string) (string, error)

	// idField names the vendor id used in item paths.
	idField string
	// readOnly fields are stripped from PUT bodies and serverSet ones
	// from POST bodies.
	readOnly   []string
	serverSet  []string
	query      url.Values

	now func() time.Time
}

func (c *collectionClient) Kind() reconcile.Kind { return c.kind }

func (c *collectionClient) Fetch(ctx context.Context, scope reconcile.Scope) (*reconcile.ExistingState, error) {
	p, err := c.list(scope)
	if err != nil {
		return nil, err
	}
	var doc []any
	if err := c.api.Get(ctx, p, c.query, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = []any{}
	}
	return &reconcile.ExistingState{
		Scope:     scope,
		Records:   records(doc),
		Document:  doc,
		FetchedAt: c.now().UTC(),
	}, nil
}

func (c *collectionClient) Compose(_ *reconcile.ExistingState, final []reconcile.Record) (any, error) {
	return toList(final), nil
}

// Apply issues one request per overwrite, removal and addition, in that
// order. The first done.Requests steps were sent by an earlier attempt and
// are skipped, so a retried plan never re-creates or re-deletes an item.
func (c *collectionClient) Apply(ctx context.Context, scope reconcile.Scope, _ *reconcile.ExistingState, plan *reconcile.MergeResult, done reconcile.ApplyResult) (reconcile.ApplyResult, error) {
	if len(plan.Pending()) > 0 {
		return done, fmt.Errorf("%d unresolved conflict(s)", len(plan.Pending()))
	}
	res := done
	step := 0
	pending := func() bool {
		step++
		return step > done.Requests
	}

	for _, conflict := range plan.Overwrites() {
		if conflict.Identical || !pending() {
			continue
		}
		if err := c.put(ctx, scope, conflict.Existing, reconcile.Overlay(conflict.Existing, conflict.Candidate)); err != nil {
			return res, err
		}
		res.Requests++
		res.Updated++
	}
	for _, r := range plan.Removed {
		if !pending() {
			continue
		}
		p, err := c.itemPath(scope, r)
		if err != nil {
			return res, err
		}
		if err := c.api.Delete(ctx, p); err != nil {
			return res, err
		}
		res.Requests++
		res.Deleted++
	}
	for _, r := range plan.Added {
		if !pending() {
			continue
		}
		if err := c.post(ctx, scope, r); err != nil {
			return res, err
		}
		res.Requests++
		res.Created++
	}
	return res, nil
}

// Restore PUTs every snapshot record that still exists and POSTs the rest.
// Records created after the snapshot are left in place.
func (c *collectionClient) Restore(ctx context.Context, scope reconcile.Scope, current, snapshot *reconcile.ExistingState) (reconcile.ApplyResult, error) {
	present := make(map[string]reconcile.Record)
	if current != nil {
		for _, r := range current.Records {
			present[fieldString(r, c.idField)] = r
		}
	}
	var res reconcile.ApplyResult
	for _, r := range snapshot.Records {
		if cur, ok := present[fieldString(r, c.idField)]; ok {
			if reconcile.Subsumes(cur, r) {
				continue
			}
			if err := c.put(ctx, scope, cur, r); err != nil {
				return res, err
			}
			res.Updated++
		} else {
			if err := c.post(ctx, scope, r); err != nil {
				return res, err
			}
			res.Created++
		}
		res.Requests++
	}
	return res, nil
}

func (c *collectionClient) itemPath(scope reconcile.Scope, r reconcile.Record) (string, error) {
	id := fieldString(r, c.idField)
	if id == "" {
		return "", fmt.Errorf("%w: %s record without %s", util.ErrValidationFailed, c.kind, c.idField)
	}
	return c.item(scope, id)
}

func (c *collectionClient) put(ctx context.Context, scope reconcile.Scope, existing, body reconcile.Record) error {
	p, err := c.itemPath(scope, existing)
	if err != nil {
		return err
	}
	return c.api.Put(ctx, p, without(body, c.readOnly...), nil)
}

func (c *collectionClient) post(ctx context.Context, scope reconcile.Scope, r reconcile.Record) error {
	p, err := c.list(scope)
	if err != nil {
		return err
	}
	return c.api.Post(ctx, p, without(r, c.serverSet...), nil)
}

// newVLANClient manages a network's appliance VLANs, one record per VLAN.
func newVLANClient(api API) *collectionClient {
	return &collectionClient{
		api:  api,
		kind: reconcile.KindVLAN,
		list: func(scope reconcile.Scope) (string, error) {
			network, err := networkID(scope)
			if err != nil {
				return "", err
			}
			return meraki.VLANsPath(network), nil
		},
		item: func(scope reconcile.Scope, id string) (string, error) {
			return meraki.VLANPath(scope.ID, id), nil
		},
		idField:   "id",
		readOnly:  []string{"id", "networkId", "interfaceId"},
		serverSet: []string{"networkId", "interfaceId"},
		now:       time.Now,
	}
}

// PolicyObjectsPath is the policy object collection of an organization.
func PolicyObjectsPath(orgID string) string {
	return "/organizations/" + url.PathEscape(orgID) + "/policyObjects"
}

// newPolicyObjectClient manages an organization's policy objects.
func newPolicyObjectClient(api API) *collectionClient {
	return &collectionClient{
		api:  api,
		kind: reconcile.KindPolicyObject,
		list: func(scope reconcile.Scope) (string, error) {
			if scope.ID == "" {
				return "", fmt.Errorf("%w: scope %s: want an organization id", util.ErrValidationFailed, scope)
			}
			return PolicyObjectsPath(scope.ID), nil
		},
		item: func(scope reconcile.Scope, id string) (string, error) {
			return PolicyObjectsPath(scope.ID) + "/" + url.PathEscape(id), nil
		},
		idField:   "id",
		readOnly:  []string{"id", "createdAt", "updatedAt", "networkIds"},
		serverSet: []string{"id", "createdAt", "updatedAt", "networkIds"},
		query:     url.Values{"perPage": {"5000"}},
		now:       time.Now,
	}
}
