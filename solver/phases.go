package solver

import (
	"strings"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/txnerr"
	"github.com/devkitPro/pacman-sub000/version"
)

// findInSync looks a bare name up across every sync database, returning
// the first literal match; when repo is non-empty (a repo-qualified
// "repo/name" target) only the database with that name is searched.
func findInSync(syncDBs []*db.Database, repo, name string) (*pkg.Package, error) {
	for _, d := range syncDBs {
		if repo != "" && d.Name != repo {
			continue
		}
		p, err := d.Lookup(name)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// findProvider looks for a package across sync databases that provides
// name, returning the first match (spec.md §4.5 Phase C's "known wart").
func findProvider(syncDBs []*db.Database, name string) (*pkg.Package, error) {
	for _, d := range syncDBs {
		matches, err := d.WhatProvides(name)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return nil, nil
}

// resolveTarget parses an optional "repo/name" prefix off of target and
// finds the concrete candidate package for Add/Sync/Upgrade, falling back
// to a provides-match.
func resolveTarget(req *Request, target string) (*pkg.Package, error) {
	repo, name := "", target
	if i := strings.IndexByte(target, '/'); i >= 0 {
		repo, name = target[:i], target[i+1:]
	}

	p, err := findInSync(req.Sync, repo, name)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return findProvider(req.Sync, name)
}

// phaseA_loadTargets resolves every target string to a concrete Package,
// merging duplicates (preferring the higher version) and rejecting
// already-installed packages unless this is an Upgrade with freshen.
func phaseA_loadTargets(req *Request, plan *Plan) ([]*pkg.Package, error) {
	byName := make(map[string]*pkg.Package)
	var order []string

	for _, t := range req.Targets {
		p, err := resolveTarget(req, t)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, txnerr.New(txnerr.PkgNotFound, nil)
		}

		installed, err := req.Local.Lookup(p.Name)
		if err != nil {
			return nil, err
		}
		if installed != nil {
			if req.Kind == Upgrade && req.Flags.Freshen {
				continue
			}
			return nil, txnerr.New(txnerr.PkgInstalled, nil)
		}

		if existing, ok := byName[p.Name]; ok {
			if version.Compare(p.Version, existing.Version) == version.Greater {
				byName[p.Name] = p
			}
			continue
		}
		byName[p.Name] = p
		order = append(order, p.Name)
	}

	out := make([]*pkg.Package, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// phaseB_electReplacements asks the front-end, for each candidate's
// replaces entry that names a currently-installed package, whether to
// replace it. Multiple candidates electing the same local package are
// merged into the single plan entry created by the first affirmative.
func phaseB_electReplacements(req *Request, candidates []*pkg.Package, plan *Plan) error {
	byLocal := make(map[string]*ReplaceWith)

	for _, cand := range candidates {
		for _, r := range cand.Replaces {
			local, err := req.Local.Lookup(r)
			if err != nil {
				return err
			}
			if local == nil {
				continue
			}
			if existing, ok := byLocal[r]; ok {
				existing.Targets = append(existing.Targets, local)
				continue
			}
			if req.Ask == nil || !req.Ask("ReplacePkg", r, cand.Name, cand.Origin) {
				continue
			}
			rw := &ReplaceWith{With: cand, Targets: []*pkg.Package{local}}
			byLocal[r] = rw
			plan.Replaces = append(plan.Replaces, *rw)
			cand.RequiredBy = append(cand.RequiredBy, local.RequiredBy...)
		}
	}
	return nil
}

// phaseC_resolveDeps walks each candidate's depends, recursively pulling
// in sync-database providers for anything not already satisfied, with a
// visitation stamp to break cycles and an iteration bound of
// roughly sqrt(|plan|) scans (spec.md §4.5 Phase C / S6).
func phaseC_resolveDeps(req *Request, candidates []*pkg.Package, plan *Plan) error {
	plan.Adds = append([]*pkg.Package(nil), candidates...)
	visiting := make(map[string]bool)
	for _, c := range candidates {
		visiting[c.Name] = true
	}

	var missing []pkg.Dependency
	queue := append([]*pkg.Package(nil), candidates...)

	bound := iterationBound(len(plan.Adds) + 1)
	passes := 0
	for len(queue) > 0 && passes < bound {
		passes++
		next := queue
		queue = nil

		for _, cand := range next {
			if err := req.Local.LoadSections(cand, db.SectionDepends); err != nil {
				return err
			}
			for _, dep := range cand.Depends {
				if satisfiedBy(req, plan, dep) {
					continue
				}
				provider, err := findSyncProvider(req, dep)
				if err != nil {
					return err
				}
				if provider == nil {
					missing = append(missing, dep)
					continue
				}
				if req.Ignore[provider.Name] {
					if req.Ask == nil || !req.Ask("InstallIgnorePkg", provider.Name) {
						missing = append(missing, dep)
						continue
					}
				}
				if visiting[provider.Name] {
					continue // cycle: already on the plan or in flight
				}
				visiting[provider.Name] = true
				plan.Adds = append(plan.Adds, provider)
				queue = append(queue, provider)
			}
		}
	}

	if len(missing) > 0 {
		return txnerr.WithMissing(missing)
	}
	return nil
}

func satisfiedBy(req *Request, plan *Plan, dep pkg.Dependency) bool {
	if installed, _ := req.Local.Lookup(dep.Name); installed != nil {
		if installed.Satisfies(dep) {
			return true
		}
	}
	for _, r := range plan.Replaced() {
		if r.Satisfies(dep) {
			return true
		}
	}
	for _, p := range plan.Adds {
		if p.Satisfies(dep) {
			return true
		}
	}
	return false
}

func findSyncProvider(req *Request, dep pkg.Dependency) (*pkg.Package, error) {
	p, err := findInSync(req.Sync, "", dep.Name)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return findProvider(req.Sync, dep.Name)
}

// phaseD_detectConflicts performs the three-way conflict check between
// incoming packages and the stable (non-replaced) local set.
func phaseD_detectConflicts(req *Request, plan *Plan) error {
	replacedNames := make(map[string]bool)
	for _, p := range plan.Replaced() {
		replacedNames[p.Name] = true
	}

	var stable []*pkg.Package
	req.Local.Each(func(p *pkg.Package) {
		if !replacedNames[p.Name] {
			stable = append(stable, p)
		}
	})

	var pairs []txnerr.ConflictPair

	for _, s := range stable {
		if err := req.Local.LoadSections(s, db.SectionDepends); err != nil {
			return err
		}
	}

	for _, incoming := range plan.Adds {
		for _, s := range stable {
			if !pkg.Conflicting(incoming, s) {
				continue
			}
			if isTargetForRemoval(req, s.Name) || replacedNames[s.Name] {
				continue
			}
			// "package provides its own conflict": incoming both conflicts
			// with and provides s's name, and s is the same package staying
			// at its old version (an upgrade-in-disguise) -- auto-remove the
			// older rather than asking (original_source/lib/libalpm/sync.c).
			if incoming.Name == s.Name && providesName(incoming, s.Name) {
				plan.Replaces = append(plan.Replaces, ReplaceWith{With: incoming, Targets: []*pkg.Package{s}})
				replacedNames[s.Name] = true
				continue
			}
			if req.Ask != nil && req.Ask("ConflictPkg", incoming.Name, s.Name) {
				plan.Replaces = append(plan.Replaces, ReplaceWith{With: incoming, Targets: []*pkg.Package{s}})
				replacedNames[s.Name] = true
				continue
			}
			pairs = append(pairs, txnerr.ConflictPair{A: incoming.Name, B: s.Name})
		}
	}

	for i := 0; i < len(plan.Adds); i++ {
		for j := i + 1; j < len(plan.Adds); j++ {
			if pkg.Conflicting(plan.Adds[i], plan.Adds[j]) {
				pairs = append(pairs, txnerr.ConflictPair{A: plan.Adds[i].Name, B: plan.Adds[j].Name})
			}
		}
	}

	if len(pairs) > 0 {
		return txnerr.WithConflicts(pairs)
	}
	return nil
}

// providesName reports whether p's provides list names name, with no
// version-comparison requirement (the self-conflict check only cares that
// p advertises the name, not at what version).
func providesName(p *pkg.Package, name string) bool {
	for _, pr := range p.Provides {
		if pr.Name == name {
			return true
		}
	}
	return false
}

func isTargetForRemoval(req *Request, name string) bool {
	if req.Kind != Remove {
		return false
	}
	for _, t := range req.Targets {
		if t == name {
			return true
		}
	}
	return false
}
