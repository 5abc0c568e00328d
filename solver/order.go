package solver

import (
	"os"
	"path/filepath"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/list"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/txnerr"
)

// topoSortAdd orders pkgs so that every package's depends (restricted to
// pkgs) appear before it, by repeated scan: each pass promotes every
// package whose remaining unplaced dependencies are all satisfied. Ties
// are broken by the original (insertion) order, making the sort stable.
func topoSortAdd(pkgs []*pkg.Package) ([]*pkg.Package, error) {
	return repeatedScanSort(pkgs, func(p *pkg.Package) []string {
		names := make([]string, len(p.Depends))
		for i, d := range p.Depends {
			names[i] = d.Name
		}
		return names
	})
}

// topoSortRemove orders pkgs so that every package's reverse dependencies
// (restricted to pkgs) appear before it: what depends on a package is
// removed before the package itself, i.e. the sort key here is RequiredBy.
func topoSortRemove(pkgs []*pkg.Package) ([]*pkg.Package, error) {
	return repeatedScanSort(pkgs, func(p *pkg.Package) []string {
		return p.RequiredBy
	})
}

// repeatedScanSort places packages so that every predecessor named by
// depsOf(p) appears before p in the output, scanning the remaining set
// repeatedly and moving up whichever package's predecessors are already
// placed. The pass count is bounded the same way Phase C bounds its
// cycle search; whatever is still unplaced when a pass makes no progress
// (a true cycle) or when the bound is hit (which can also cut off a long
// acyclic chain) is appended in its original relative order, mirroring
// S6's "commits a plan that includes both packages in insertion order".
func repeatedScanSort(pkgs []*pkg.Package, depsOf func(*pkg.Package) []string) ([]*pkg.Package, error) {
	byName := make(map[string]*pkg.Package, len(pkgs))
	for _, p := range pkgs {
		byName[p.Name] = p
	}

	placed := make(map[string]bool, len(pkgs))
	var out []*pkg.Package
	remaining := append([]*pkg.Package(nil), pkgs...)

	bound := iterationBound(len(pkgs) + 1)
	for pass := 0; len(remaining) > 0 && pass < bound; pass++ {
		var stillRemaining []*pkg.Package
		for _, p := range remaining {
			ready := true
			for _, depName := range depsOf(p) {
				if _, inSet := byName[depName]; !inSet {
					continue // dependency isn't part of this plan; irrelevant to ordering
				}
				if !placed[depName] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, p)
				placed[p.Name] = true
			} else {
				stillRemaining = append(stillRemaining, p)
			}
		}
		if len(stillRemaining) == len(remaining) {
			break // no progress this pass; whatever's left is cyclic
		}
		remaining = stillRemaining
	}

	// Any unplaced packages (a cycle, or leftovers once the bound is hit):
	// append in original order.
	out = append(out, remaining...)
	return out, nil
}

// fileEntry is one path in a sorted file list, tagged with the package that
// lists it; comparing/equating only on Path lets fileEntry lists play the
// role of the "presorted by the same key" inputs list.DiffSorted and
// list.IntersectSorted require.
type fileEntry struct {
	Path  string
	Owner string
}

func fileEntryCmp(a, b interface{}) bool { return a.(fileEntry).Path < b.(fileEntry).Path }
func fileEntryEq(a, b interface{}) bool  { return a.(fileEntry).Path == b.(fileEntry).Path }

// sortedFileList wraps paths (already sorted per spec.md §3's "files:
// ordered list of installed file paths, sorted") as a fileEntry *list.List.
func sortedFileList(paths []string, owner string) *list.List {
	l := list.New()
	for _, p := range paths {
		l.Add(fileEntry{Path: p, Owner: owner})
	}
	return l
}

// fileConflictCheck resolves each incoming package's file list against
// the filesystem and the other incoming file lists, populating
// plan.SkipRemove/SkipAdd for explainable conflicts and failing hard
// otherwise (spec.md §4.5 "File-conflict check"). The presorted inputs are
// diffed/intersected with list.DiffSorted/list.IntersectSorted, the
// "workhorses for the solver" spec.md §9 calls out by name.
func fileConflictCheck(req *Request, plan *Plan) error {
	var conflicts []txnerr.FileConflict

	removedNames := make(map[string]bool)
	for _, p := range plan.Replaced() {
		removedNames[p.Name] = true
	}
	for _, p := range plan.Removes {
		removedNames[p.Name] = true
	}

	// localSorted merges every installed package's (already sorted) file
	// list into one path-ordered list, each entry tagged with its owner.
	localSorted := list.New()
	req.Local.Each(func(p *pkg.Package) {
		if err := req.Local.LoadSections(p, db.SectionFiles); err != nil {
			return
		}
		localSorted = list.MergeSorted(localSorted, sortedFileList(p.Files, p.Name), fileEntryCmp)
	})

	// planSorted accumulates incoming packages' file lists as they're
	// processed, so each new incoming package's list can be intersected
	// against everything placed on the plan so far (target-target check).
	planSorted := list.New()

	for _, incoming := range plan.Adds {
		if err := req.Local.LoadSections(incoming, db.SectionFiles); err != nil {
			return err
		}
		incomingSorted := sortedFileList(incoming.Files, incoming.Name)

		dupes := list.IntersectSorted(planSorted, incomingSorted, fileEntryCmp, fileEntryEq)
		for n := dupes.Front(); n != nil; n = n.Next() {
			e := n.Value.(fileEntry)
			conflicts = append(conflicts, txnerr.FileConflict{Path: e.Path, Target: incoming.Name, Owner: e.Owner})
		}

		owned := list.IntersectSorted(localSorted, incomingSorted, fileEntryCmp, fileEntryEq)
		ownerOf := make(map[string]string, owned.Len())
		for n := owned.Front(); n != nil; n = n.Next() {
			e := n.Value.(fileEntry)
			ownerOf[e.Path] = e.Owner
		}
		_, onlyIncoming := list.DiffSorted(localSorted, incomingSorted, fileEntryCmp, fileEntryEq)
		unowned := make(map[string]bool, onlyIncoming.Len())
		for n := onlyIncoming.Front(); n != nil; n = n.Next() {
			unowned[n.Value.(fileEntry).Path] = true
		}

		for _, f := range incoming.Files {
			if owner, ownedLocally := ownerOf[f]; ownedLocally {
				if removedNames[owner] {
					plan.SkipRemove[f] = true
					continue
				}
				if _, backedUp := incoming.Backup[f]; backedUp {
					plan.SkipAdd[f] = true
					continue
				}
				isDir, _ := pathIsDir(req, f)
				if isDir {
					continue
				}
				conflicts = append(conflicts, txnerr.FileConflict{Path: f, Target: incoming.Name, Owner: owner})
				continue
			}

			if !unowned[f] {
				// Neither matched against a local entry nor in the
				// incoming-only half of the diff; with presorted inputs
				// every path lands in one of the two, so this is skipped.
				continue
			}

			// No local package owns this path (original_source/lib/libalpm/
			// conflict.c's _alpm_db_find_conflicts lstats every target path
			// regardless of local-DB ownership): a stray file already on
			// disk here is still a hard conflict unless it's a directory or
			// doesn't exist.
			exists, isDir, err := statPath(req, f)
			if err != nil {
				return err
			}
			if !exists || isDir {
				continue
			}
			conflicts = append(conflicts, txnerr.FileConflict{Path: f, Target: incoming.Name, Owner: ""})
		}

		planSorted = list.MergeSorted(planSorted, incomingSorted, fileEntryCmp)
	}

	if len(conflicts) > 0 {
		return txnerr.WithFileConflicts(conflicts)
	}
	return nil
}

func pathIsDir(req *Request, relPath string) (bool, error) {
	_, isDir, err := statPath(req, relPath)
	return isDir, err
}

func statPath(req *Request, relPath string) (exists, isDir bool, err error) {
	root := req.RootPath
	if root == "" {
		root = string(filepath.Separator)
	}
	fi, err := os.Stat(filepath.Join(root, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, fi.IsDir(), nil
}
