package main

import (
	"testing"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

func TestRunByKindStopsOnAuthRejection(t *testing.T) {
	job := func(kind reconcile.Kind, id string) reconcile.Job {
		return reconcile.Job{Scope: reconcile.Scope{Kind: kind, ID: id}}
	}
	jobs := []reconcile.Job{
		job(reconcile.KindVpnExclusion, "N_1"),
		job(reconcile.KindVpnExclusion, "N_2"),
		job(reconcile.KindVpnMajorApp, "N_1"),
		job(reconcile.KindVpnMajorApp, "N_2"),
	}

	var ran []reconcile.Kind
	reports, failed, err := runByKind(jobs, func(kind reconcile.Kind, jobs []reconcile.Job) (*reconcile.Report, error) {
		ran = append(ran, kind)
		rep := &reconcile.Report{Kind: kind}
		for _, j := range jobs {
			rep.Outcomes = append(rep.Outcomes, &reconcile.Outcome{
				Scope: j.Scope, State: reconcile.StateFailed, Reason: reconcile.ReasonAuthRejected,
			})
		}
		return rep, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ran) != 1 || ran[0] != reconcile.KindVpnExclusion {
		t.Errorf("ran kinds = %v, want only %s", ran, reconcile.KindVpnExclusion)
	}
	if len(reports) != 1 || failed != 4 {
		t.Errorf("reports = %d, failed = %d, want 1 and 4", len(reports), failed)
	}

	ran = nil
	_, failed, _ = runByKind(jobs, func(kind reconcile.Kind, jobs []reconcile.Job) (*reconcile.Report, error) {
		ran = append(ran, kind)
		return &reconcile.Report{Kind: kind}, nil
	})
	if len(ran) != 2 || failed != 0 {
		t.Errorf("healthy run: kinds = %v, failed = %d", ran, failed)
	}
}
