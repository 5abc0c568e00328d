// Package solver implements component C5: the five-phase dependency and
// conflict resolver described in spec.md §4.5. Each phase is a pure
// function over a Request (the current local database, the available
// sync databases, and the targets) that produces or refines a Plan; the
// final phase's output is handed to the apply package unchanged.
package solver

import (
	"math"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/txnerr"
)

// Kind says what a transaction is trying to do, which governs how Phase A
// resolves target strings and how Phase E orders the plan.
type Kind int

const (
	Add Kind = iota
	Remove
	Sync
	Upgrade
)

// Flags mirrors the bitset of transaction flags spec.md §6 names that the
// solver inspects.
type Flags struct {
	NoDeps    bool
	Freshen   bool
	Cascade   bool
	Recurse   bool
	AllDeps   bool
	NoConflicts bool
}

// Question lets the solver ask the front-end for a decision mid-resolve.
// A nil Question always answers false (non-interactive / batch mode).
type Question func(kind string, args ...interface{}) bool

// ReplaceWith records that Targets (local packages) are being replaced by
// With, a single incoming sync package.
type ReplaceWith struct {
	With    *pkg.Package
	Targets []*pkg.Package
}

// Plan is the solver's output: an ordered set of packages to add and to
// remove, plus bookkeeping the apply package needs.
type Plan struct {
	Adds    []*pkg.Package
	Removes []*pkg.Package

	Replaces []ReplaceWith

	SkipRemove map[string]bool // paths the remove phase must not delete
	SkipAdd    map[string]bool // paths the add phase must copy, not overwrite

	FileConflicts []txnerr.FileConflict
}

// Request bundles everything a resolve pass needs.
type Request struct {
	Kind    Kind
	Flags   Flags
	Targets []string

	RootPath string // filesystem prefix the file-conflict check stats against
	Local    *db.Database
	Sync     []*db.Database

	Ignore map[string]bool // ignore_pkg: names that ask-confirm on upgrade
	Ask    Question
}

// Packages returns every package the plan will have installed once
// applied (the "incoming" set of spec.md §4.5 Phase D).
func (p *Plan) Packages() []*pkg.Package { return p.Adds }

// Replaced returns every local package a ReplaceWith entry subsumes.
func (p *Plan) Replaced() []*pkg.Package {
	var out []*pkg.Package
	for _, r := range p.Replaces {
		out = append(out, r.Targets...)
	}
	return out
}

func newPlan() *Plan {
	return &Plan{
		SkipRemove: make(map[string]bool),
		SkipAdd:    make(map[string]bool),
	}
}

// Resolve runs all five phases plus the file-conflict check and returns
// the finished Plan, or a *txnerr.Error carrying every problem found.
func Resolve(req *Request) (*Plan, error) {
	plan := newPlan()

	if req.Kind == Remove {
		if err := loadRemoveTargets(req, plan); err != nil {
			return nil, err
		}
		order, err := topoSortRemove(plan.Removes)
		if err != nil {
			return nil, err
		}
		plan.Removes = order
		return plan, nil
	}

	candidates, err := phaseA_loadTargets(req, plan)
	if err != nil {
		return nil, err
	}

	if err := phaseB_electReplacements(req, candidates, plan); err != nil {
		return nil, err
	}

	if !req.Flags.NoDeps {
		if err := phaseC_resolveDeps(req, candidates, plan); err != nil {
			return nil, err
		}
	} else {
		plan.Adds = candidates
	}

	if !req.Flags.NoConflicts {
		if err := phaseD_detectConflicts(req, plan); err != nil {
			return nil, err
		}
	}

	order, err := topoSortAdd(plan.Adds)
	if err != nil {
		return nil, err
	}
	plan.Adds = order

	if err := fileConflictCheck(req, plan); err != nil {
		return nil, err
	}

	return plan, nil
}

func loadRemoveTargets(req *Request, plan *Plan) error {
	var missing []pkg.Dependency
	for _, t := range req.Targets {
		p, err := req.Local.Lookup(t)
		if err != nil {
			return err
		}
		if p == nil {
			missing = append(missing, pkg.Dependency{Name: t})
			continue
		}
		if err := req.Local.LoadSections(p, db.SectionFiles|db.SectionDepends); err != nil {
			return err
		}
		plan.Removes = append(plan.Removes, p)
	}
	if len(missing) > 0 {
		return txnerr.New(txnerr.PkgNotFound, nil)
	}
	return nil
}

func iterationBound(n int) int {
	b := int(math.Sqrt(float64(n))) + 1
	if b < 4 {
		b = 4
	}
	return b
}
