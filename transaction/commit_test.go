package transaction

import (
	"io"
	"os"
	"testing"

	"github.com/devkitPro/pacman-sub000/apply"
	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
	"github.com/devkitPro/pacman-sub000/solver"
)

func newTestController(t *testing.T, caps Capabilities) *Controller {
	t.Helper()
	local, err := db.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	return &Controller{
		cfg:   Config{RootPath: t.TempDir()},
		caps:  caps,
		local: local,
		state: Idle,
	}
}

// interruptAfterFirstAdd calls back into the controller to request an
// interrupt as soon as the first package finishes installing, simulating a
// signal arriving mid-commit.
type interruptAfterFirstAdd struct {
	ctrl *Controller
	done int
}

func (s *interruptAfterFirstAdd) Event(e ports.Event) {
	if e.Kind != ports.EventAddDone {
		return
	}
	s.done++
	if s.done == 1 {
		s.ctrl.Interrupt()
	}
}

func threeTargetPlan() *solver.Plan {
	return &solver.Plan{
		Adds: []*pkg.Package{
			{Name: "a", Version: "1"},
			{Name: "b", Version: "1"},
			{Name: "c", Version: "1"},
		},
		SkipRemove: map[string]bool{},
		SkipAdd:    map[string]bool{},
	}
}

func archivesFor(plan *solver.Plan) (apply.Archives, fakeArchive) {
	arc := fakeArchive{}
	archives := apply.Archives{}
	for _, p := range plan.Adds {
		path := p.Name + ".pkg"
		arc[path] = nil
		archives[p.Name] = path
	}
	return archives, arc
}

// TestCommitStopsAtNextTargetBoundary exercises the S5-style interruption
// scenario: a signal arrives while the first of three Adds is being
// committed, and the commit must stop between targets rather than run the
// whole plan or abandon the in-progress one.
func TestCommitStopsAtNextTargetBoundary(t *testing.T) {
	sink := &interruptAfterFirstAdd{}
	ctrl := newTestController(t, Capabilities{})
	sink.ctrl = ctrl
	ctrl.caps.Events = sink

	ctrl.state = Prepared
	plan := threeTargetPlan()
	archives, arc := archivesFor(plan)
	ctrl.caps.Archive = arc
	txn := &Txn{ctrl: ctrl, Kind: solver.Add, Plan: plan}

	if err := txn.Commit(archives, apply.Options{RootPath: ctrl.cfg.RootPath}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got, want := ctrl.State(), Interrupted; got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}

	for _, name := range []string{"a"} {
		if p, _ := ctrl.local.Lookup(name); p == nil {
			t.Fatalf("expected %s to be installed before the interrupt", name)
		}
	}
	for _, name := range []string{"b", "c"} {
		if p, _ := ctrl.local.Lookup(name); p != nil {
			t.Fatalf("expected %s to not be installed after the interrupt", name)
		}
	}

	if err := ctrl.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got, want := ctrl.State(), Idle; got != want {
		t.Fatalf("state after Release = %v, want %v", got, want)
	}
	if _, err := os.Stat(ctrl.cfg.lockPath()); !os.IsNotExist(err) {
		t.Fatal("expected lock file to be gone after Release")
	}
}

// TestCommitWithoutInterruptReachesCommitted checks the ordinary path: no
// Interrupt call means every target lands and the state ends at Committed.
func TestCommitWithoutInterruptReachesCommitted(t *testing.T) {
	ctrl := newTestController(t, Capabilities{})
	ctrl.state = Prepared
	plan := threeTargetPlan()
	archives, arc := archivesFor(plan)
	ctrl.caps.Archive = arc
	txn := &Txn{ctrl: ctrl, Kind: solver.Add, Plan: plan}

	if err := txn.Commit(archives, apply.Options{RootPath: ctrl.cfg.RootPath}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got, want := ctrl.State(), Committed; got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
	for _, name := range []string{"a", "b", "c"} {
		if p, _ := ctrl.local.Lookup(name); p == nil {
			t.Fatalf("expected %s to be installed", name)
		}
	}
}

func TestCommitRejectsUnpreparedTransaction(t *testing.T) {
	ctrl := newTestController(t, Capabilities{})
	txn := &Txn{ctrl: ctrl, Plan: &solver.Plan{SkipRemove: map[string]bool{}, SkipAdd: map[string]bool{}}}

	err := txn.Commit(apply.Archives{}, apply.Options{})
	if err == nil {
		t.Fatal("expected an error committing an unprepared transaction")
	}
}

func TestInitAddTargetDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	ctrl := newTestController(t, Capabilities{})
	ctrl.cfg.DBPath = dir

	txn, err := ctrl.Init(solver.Add, solver.Flags{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got, want := ctrl.State(), Initialized; got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}

	if err := txn.AddTarget("foo"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := txn.AddTarget("foo"); err == nil {
		t.Fatal("expected duplicate target to be rejected")
	}

	if err := ctrl.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got, want := ctrl.State(), Idle; got != want {
		t.Fatalf("state after Release = %v, want %v", got, want)
	}
}

// --- fake ArchiveReader, mirroring apply package's test double ---------

type fakeArchiveEntry struct {
	ent  ports.Entry
	data []byte
}

type fakeArchiveIterator struct {
	idx int
}

func (it *fakeArchiveIterator) Next() (ports.Entry, error) { return ports.Entry{}, io.EOF }
func (it *fakeArchiveIterator) ReadData(buf []byte) (int, error) { return 0, io.EOF }
func (it *fakeArchiveIterator) Close() error                     { return nil }

// fakeArchive's packages carry no files, so install only needs to prove it
// can open (and immediately exhaust) an archive for each plan target.
type fakeArchive map[string][]fakeArchiveEntry

func (a fakeArchive) Open(path string) (ports.ArchiveIterator, error) {
	if _, ok := a[path]; !ok {
		return nil, os.ErrNotExist
	}
	return &fakeArchiveIterator{}, nil
}
