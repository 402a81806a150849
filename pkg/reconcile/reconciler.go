package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/merakimate/merakimate/pkg/util"
)

// ConflictPolicy decides what happens to candidates that collide with an
// existing record.
type ConflictPolicy string

const (
	OverwriteAll   ConflictPolicy = "overwrite-all"
	SkipAll        ConflictPolicy = "skip-all"
	AskPerConflict ConflictPolicy = "ask-per-conflict"
)

// ParseConflictPolicy validates a policy name. Empty means AskPerConflict.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "":
		return AskPerConflict, nil
	case OverwriteAll, SkipAll, AskPerConflict:
		return ConflictPolicy(s), nil
	}
	return "", fmt.Errorf("%w: on_conflict %q (want overwrite-all, skip-all or ask-per-conflict)", util.ErrInvalidConfig, s)
}

// State is a step of the per-scope state machine.
type State string

const (
	StateFetching         State = "FETCHING"
	StateDiffing          State = "DIFFING"
	StateAwaitingDecision State = "AWAITING_DECISION"
	StateBackingUp        State = "BACKING_UP"
	StateApplying         State = "APPLYING"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Reason explains a FAILED outcome.
type Reason string

const (
	ReasonScopeMissing      Reason = "scope-missing"
	ReasonFetchUnreachable  Reason = "fetch-unreachable"
	ReasonFetchFailed       Reason = "fetch-failed"
	ReasonBackupFailed      Reason = "backup-failed"
	ReasonApplyRejected     Reason = "apply-rejected"
	ReasonApplyUnreachable  Reason = "apply-unreachable"
	ReasonAuthRejected      Reason = "auth-rejected"
	ReasonDecisionCancelled Reason = "decision-cancelled"
	ReasonBatchAborted      Reason = "batch-aborted"
)

// Client reads and writes one kind of remote collection. Implementations
// never retry; Fetch and Apply return errors classified by the util
// sentinels (ErrNotFound, ErrAuthRejected, ErrValidationFailed, ErrTransient).
type Client interface {
	Kind() Kind
	Fetch(ctx context.Context, scope Scope) (*ExistingState, error)
	// Compose renders the document Apply would send for final.
	Compose(existing *ExistingState, final []Record) (any, error)
	// Apply sends plan. done is what earlier attempts at the same plan
	// already sent; its requests are skipped and the returned result
	// includes them.
	Apply(ctx context.Context, scope Scope, existing *ExistingState, plan *MergeResult, done ApplyResult) (ApplyResult, error)
}

// ApplyResult describes what Apply sent.
type ApplyResult struct {
	Requests int `json:"requests"`
	Created  int `json:"created,omitempty"`
	Updated  int `json:"updated,omitempty"`
	Deleted  int `json:"deleted,omitempty"`
}

// Decider settles one conflict. Returning util.ErrDecisionCancelled (or a
// cancelled context) abandons the current scope.
type Decider interface {
	Decide(ctx context.Context, scope Scope, c Conflict) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, scope Scope, c Conflict) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, scope Scope, c Conflict) (Decision, error) {
	return f(ctx, scope, c)
}

// Backuper persists the pre-change state and returns a snapshot handle.
type Backuper interface {
	Save(ctx context.Context, scope Scope, state *ExistingState) (string, error)
}

// Observer is told about every transition and final outcome.
type Observer interface {
	OnTransition(scope Scope, state State)
	OnOutcome(o *Outcome)
}

// Job is the desired records for one scope.
type Job struct {
	Scope   Scope
	Records []Record
	Key     IdentityKey
}

// Config parameterises a Reconciler. No field is read from globals.
type Config struct {
	OnConflict ConflictPolicy
	Mode       Mode
	Retries    int           // extra attempts after a transient failure
	Backoff    time.Duration // attempt n waits n*Backoff
	Workers    int           // scopes reconciled concurrently; <=1 is sequential
	DryRun     bool
	Decider    Decider
	Backup     Backuper
	Observers  []Observer // called from worker goroutines when Workers > 1

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// DefaultRetries and DefaultBackoff are the settings defaults. A zero
// Config.Retries means the first failure is final.
const (
	DefaultRetries = 3
	DefaultBackoff = 2 * time.Second
)

// Reconciler runs the state machine for every job of a batch.
type Reconciler struct {
	client   Client
	cfg      Config
	decideMu sync.Mutex
}

// New validates cfg and returns a Reconciler for client.
func New(client Client, cfg Config) (*Reconciler, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", util.ErrInvalidConfig)
	}
	if cfg.OnConflict == "" {
		cfg.OnConflict = AskPerConflict
	}
	if _, err := ParseConflictPolicy(string(cfg.OnConflict)); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMerge
	}
	if cfg.Mode != ModeMerge && cfg.Mode != ModeRemove {
		return nil, fmt.Errorf("%w: mode %q", util.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Mode == ModeMerge && cfg.OnConflict == AskPerConflict && cfg.Decider == nil && !cfg.DryRun {
		return nil, fmt.Errorf("%w: ask-per-conflict needs a decider", util.ErrInvalidConfig)
	}
	if cfg.Backup == nil && !cfg.DryRun {
		return nil, fmt.Errorf("%w: no backup store", util.ErrInvalidConfig)
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{client: client, cfg: cfg}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run reconciles every job and returns one outcome per job, in job order.
// An auth rejection on any scope stops the batch; scopes not yet started
// are reported as batch-aborted.
func (r *Reconciler) Run(ctx context.Context, jobs []Job) *Report {
	report := &Report{
		RunID:    uuid.Must(uuid.NewV7()).String(),
		Kind:     r.client.Kind(),
		DryRun:   r.cfg.DryRun,
		Started:  r.cfg.Now(),
		Outcomes: make([]*Outcome, len(jobs)),
	}

	var aborted atomic.Bool
	runOne := func(i int) {
		if aborted.Load() {
			report.Outcomes[i] = r.abortedOutcome(jobs[i].Scope)
			return
		}
		o := r.Reconcile(ctx, jobs[i])
		if o.Reason == ReasonAuthRejected {
			aborted.Store(true)
		}
		report.Outcomes[i] = o
	}

	workers := r.cfg.Workers
	if workers <= 1 {
		for i := range jobs {
			runOne(i)
		}
	} else {
		next := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range next {
					runOne(i)
				}
			}()
		}
		for i := range jobs {
			next <- i
		}
		close(next)
		wg.Wait()
	}

	report.Finished = r.cfg.Now()
	return report
}

func (r *Reconciler) abortedOutcome(scope Scope) *Outcome {
	o := &Outcome{Scope: scope, State: StateFailed, Reason: ReasonBatchAborted, DryRun: r.cfg.DryRun,
		Err: fmt.Errorf("%w: batch stopped after credentials were rejected", util.ErrAuthRejected)}
	r.notifyOutcome(o)
	return o
}

// Reconcile runs the state machine for a single scope.
func (r *Reconciler) Reconcile(ctx context.Context, job Job) *Outcome {
	start := r.cfg.Now()
	o := &Outcome{Scope: job.Scope, DryRun: r.cfg.DryRun}
	log := util.WithScope(string(job.Scope.Kind), job.Scope.ID)

	finish := func(state State, reason Reason, err error) *Outcome {
		o.State, o.Reason, o.Err = state, reason, err
		o.Duration = r.cfg.Now().Sub(start)
		if o.Plan != nil {
			o.Counts = o.Plan.Counts()
		}
		if err != nil {
			log.WithField("reason", reason).Warnf("reconcile failed: %v", err)
		}
		r.transition(job.Scope, state)
		r.notifyOutcome(o)
		return o
	}

	// FETCHING
	r.transition(job.Scope, StateFetching)
	var existing *ExistingState
	attempts, err := r.retry(ctx, job.Scope, "fetch", func() error {
		var ferr error
		existing, ferr = r.client.Fetch(ctx, job.Scope)
		return ferr
	})
	o.FetchAttempts = attempts
	if err != nil {
		return finish(StateFailed, fetchReason(err), err)
	}
	o.Existing = existing

	// DIFFING
	r.transition(job.Scope, StateDiffing)
	var plan *MergeResult
	if r.cfg.Mode == ModeRemove {
		plan = DiffRemove(existing.Records, job.Records, job.Key)
	} else {
		plan = Diff(existing.Records, job.Records, job.Key)
		plan.Resolve(r.cfg.OnConflict)
	}
	o.Plan = plan

	if r.cfg.DryRun {
		payload, err := r.client.Compose(existing, plan.Preview())
		if err != nil {
			return finish(StateFailed, ReasonApplyRejected, err)
		}
		o.Payload = payload
		o.NoChange = !plan.Changed() && len(plan.Pending()) == 0
		return finish(StateDone, "", nil)
	}

	if pending := plan.Pending(); len(pending) > 0 {
		r.transition(job.Scope, StateAwaitingDecision)
		if err := r.decide(ctx, job.Scope, plan, pending); err != nil {
			return finish(StateFailed, ReasonDecisionCancelled, err)
		}
	}

	final, err := plan.Final()
	if err != nil {
		return finish(StateFailed, ReasonDecisionCancelled, err)
	}
	payload, err := r.client.Compose(existing, final)
	if err != nil {
		return finish(StateFailed, ReasonApplyRejected, err)
	}
	o.Payload = payload

	if !plan.Changed() {
		o.NoChange = true
		log.Debug("no changes")
		return finish(StateDone, "", nil)
	}

	// BACKING_UP
	r.transition(job.Scope, StateBackingUp)
	handle, err := r.cfg.Backup.Save(ctx, job.Scope, existing)
	if err != nil {
		return finish(StateFailed, ReasonBackupFailed, err)
	}
	o.Snapshot = handle

	// APPLYING
	r.transition(job.Scope, StateApplying)
	attempts, err = r.retry(ctx, job.Scope, "apply", func() error {
		res, aerr := r.client.Apply(ctx, job.Scope, existing, plan, o.Applied)
		o.Applied = res
		return aerr
	})
	o.ApplyAttempts = attempts
	if err != nil {
		return finish(StateFailed, applyReason(err), err)
	}
	return finish(StateDone, "", nil)
}

func (r *Reconciler) decide(ctx context.Context, scope Scope, plan *MergeResult, pending []int) error {
	if r.cfg.Decider == nil {
		return fmt.Errorf("%w: no decider for %d conflict(s)", util.ErrDecisionCancelled, len(pending))
	}
	r.decideMu.Lock()
	defer r.decideMu.Unlock()

	for _, i := range pending {
		d, err := r.cfg.Decider.Decide(ctx, scope, plan.Conflicts[i])
		if err != nil {
			if !errors.Is(err, util.ErrDecisionCancelled) {
				err = fmt.Errorf("%w: %v", util.ErrDecisionCancelled, err)
			}
			return err
		}
		if d != DecisionOverwrite && d != DecisionSkip {
			return fmt.Errorf("%w: no decision for %s", util.ErrDecisionCancelled, plan.Conflicts[i].Key)
		}
		plan.Conflicts[i].Decision = d
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// exhausts cfg.Retries extra attempts. Attempt n is followed by a wait of
// n*Backoff.
func (r *Reconciler) retry(ctx context.Context, scope Scope, op string, fn func() error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, util.ErrTransient) || attempt > r.cfg.Retries {
			return attempt, err
		}
		wait := time.Duration(attempt) * r.cfg.Backoff
		util.WithScope(string(scope.Kind), scope.ID).
			WithField("attempt", attempt).
			Warnf("%s: transient failure, retrying in %s: %v", op, wait, err)
		if serr := r.cfg.Sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}

func fetchReason(err error) Reason {
	switch {
	case errors.Is(err, util.ErrAuthRejected):
		return ReasonAuthRejected
	case errors.Is(err, util.ErrNotFound):
		return ReasonScopeMissing
	case errors.Is(err, util.ErrTransient):
		return ReasonFetchUnreachable
	}
	return ReasonFetchFailed
}

func applyReason(err error) Reason {
	switch {
	case errors.Is(err, util.ErrAuthRejected):
		return ReasonAuthRejected
	case errors.Is(err, util.ErrTransient):
		return ReasonApplyUnreachable
	case errors.Is(err, util.ErrNotFound):
		return ReasonScopeMissing
	}
	return ReasonApplyRejected
}

func (r *Reconciler) transition(scope Scope, state State) {
	util.WithScope(string(scope.Kind), scope.ID).WithField("state", state).Debug("transition")
	for _, obs := range r.cfg.Observers {
		obs.OnTransition(scope, state)
	}
}

func (r *Reconciler) notifyOutcome(o *Outcome) {
	for _, obs := range r.cfg.Observers {
		obs.OnOutcome(o)
	}
}
