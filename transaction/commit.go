package transaction

import (
	"sync/atomic"

	"github.com/devkitPro/pacman-sub000/apply"
	"github.com/devkitPro/pacman-sub000/ports"
	"github.com/devkitPro/pacman-sub000/solver"
	"github.com/devkitPro/pacman-sub000/txnerr"
)

// Prepare runs the solver over t's targets and, on success, advances the
// controller to Prepared and records the resulting Plan on t. A solver
// failure (unsatisfied deps, conflicts, file conflicts) leaves the controller in Initialized so the caller can adjust
// targets/flags and retry, per spec.md §4.5's error propagation policy.
func (t *Txn) Prepare() (*solver.Plan, error) {
	c := t.ctrl
	c.mu.Lock()
	if c.state != Initialized {
		c.mu.Unlock()
		return nil, &txnerr.Error{Kind: txnerr.TransNotInitialized}
	}
	c.mu.Unlock()

	c.fire(ports.EventResolveDepsStart, nil, nil)

	req := &solver.Request{
		Kind:     t.Kind,
		Flags:    t.Flags,
		Targets:  t.Targets,
		RootPath: c.cfg.RootPath,
		Local:    c.local,
		Sync:     c.sync,
		Ignore:   c.cfg.IgnorePkg,
		Ask:      c.solverQuestion,
	}

	plan, err := solver.Resolve(req)
	if err != nil {
		c.fire(ports.EventResolveDepsDone, nil, err)
		return nil, err
	}
	c.fire(ports.EventResolveDepsDone, nil, nil)

	c.mu.Lock()
	t.Plan = plan
	c.state = Prepared
	c.mu.Unlock()
	return plan, nil
}

// solverQuestion bridges solver.Question to the controller's QuestionSink,
// mapping the solver's kind string to a typed QuestionKind through
// questionKindFor.
func (c *Controller) solverQuestion(kind string, args ...interface{}) bool {
	var a1, a2, a3 interface{}
	if len(args) > 0 {
		a1 = args[0]
	}
	if len(args) > 1 {
		a2 = args[1]
	}
	if len(args) > 2 {
		a3 = args[2]
	}
	return c.ask(questionKindFor(kind), a1, a2, a3)
}

// questionKindFor maps the solver's loosely-typed Question kind strings
// (see solver/phases.go's req.Ask calls) onto the ports package's typed
// QuestionKind enum.
func questionKindFor(kind string) ports.QuestionKind {
	switch kind {
	case "ReplacePkg":
		return ports.QuestionReplacePkg
	case "InstallIgnorePkg":
		return ports.QuestionInstallIgnorePkg
	case "ConflictPkg":
		return ports.QuestionConflictPkg
	default:
		return ports.QuestionKind(kind)
	}
}

// interruptFlag is set by Interrupt and polled between targets during
// Commit; a *Controller rather than a *Txn field since a signal handler
// calling Interrupt has no access to the Txn value the committing
// goroutine is working with.
type interruptFlag struct {
	v int32
}

func (f *interruptFlag) set()        { atomic.StoreInt32(&f.v, 1) }
func (f *interruptFlag) isSet() bool { return atomic.LoadInt32(&f.v) == 1 }

// Commit applies t.Plan via the apply package, one target at a time,
// checking for an Interrupt between targets. archives supplies the
// on-disk path for every package the plan adds. Commit blocks a
// concurrent Release until it returns, per spec.md §4.7.
func (t *Txn) Commit(archives apply.Archives, opts apply.Options) error {
	c := t.ctrl
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.state != Prepared {
		c.mu.Unlock()
		return &txnerr.Error{Kind: txnerr.TransNotPrepared}
	}
	c.state = Committing
	c.mu.Unlock()

	flag := &interruptFlag{}
	c.mu.Lock()
	c.interrupt = flag
	c.mu.Unlock()

	engine := &apply.Engine{
		Local:     c.local,
		Archive:   c.caps.Archive,
		Hasher:    c.caps.Hasher,
		Scriptlet: c.caps.Scriptlet,
		Events:    c.caps.Events,
		Progress:  c.caps.Progress,
		Audit:     c.caps.Audit,
		Log:       c.caps.Log,
	}

	if opts.SkipRemove == nil {
		opts.SkipRemove = t.Plan.SkipRemove
	}
	if opts.SkipAdd == nil {
		opts.SkipAdd = t.Plan.SkipAdd
	}
	err := engine.Run(t.Plan, archives, opts, flag.isSet)

	c.mu.Lock()
	c.interrupt = nil
	if err != nil {
		// Left in Committing: whatever targets already landed stand (no
		// rollback, per spec.md §4.6), but the transaction cannot be
		// resumed. The caller must Release and start a fresh one.
		c.mu.Unlock()
		c.audit("transaction commit failed: %v", err)
		return err
	}
	if flag.isSet() {
		c.state = Interrupted
	} else {
		c.state = Committed
	}
	c.mu.Unlock()
	c.audit("transaction committed")
	return nil
}

// Interrupt asks the controller to stop committing at the next target
// boundary. It is safe to call from a different goroutine than the one
// running Commit (e.g. a signal handler), per spec.md §4.7's "single
// cancellation signal". It is a no-op if no commit is in progress.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	flag := c.interrupt
	c.mu.Unlock()
	if flag != nil {
		flag.set()
	}
}
