package audit

import (
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// Recorder is a reconcile.Observer that writes one event per finished scope.
type Recorder struct {
	Logger    Logger // nil uses the default logger
	User      string
	Org       string
	Operation string
	RunID     string
	Execute   bool
}

var _ reconcile.Observer = (*Recorder)(nil)

// NewRecorder tags every event of one batch run with a fresh run id.
func NewRecorder(logger Logger, user, org, operation string, execute bool) *Recorder {
	return &Recorder{Logger: logger, User: user, Org: org, Operation: operation, RunID: NewID(), Execute: execute}
}

func (r *Recorder) OnTransition(reconcile.Scope, reconcile.State) {}

func (r *Recorder) OnOutcome(o *reconcile.Outcome) {
	event := NewEvent(r.User, o.Scope, r.Operation).WithOutcome(o).WithExecuteMode(r.Execute && !o.DryRun)
	event.RunID = r.RunID
	event.Org = r.Org

	var err error
	if r.Logger != nil {
		err = r.Logger.Log(event)
	} else {
		err = Log(event)
	}
	if err != nil {
		util.WithScope(event.Kind, event.Scope).Warnf("audit: %v", err)
	}
}
