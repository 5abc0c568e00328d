package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/devkitPro/pacman-sub000/apply"
	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/solver"
	"github.com/devkitPro/pacman-sub000/transaction"
)

// initCommand lays out dbpath/local and dbpath/sync/<repo> the way
// `pacman-key --init`/a first `pacman -Sy` bootstraps its database tree;
// the core itself never creates these directories (db.Open requires an
// existing path), so a front-end must.
type initCommand struct {
	repos string
}

func (c *initCommand) Name() string      { return "init" }
func (c *initCommand) Args() string      { return "" }
func (c *initCommand) ShortHelp() string { return "create an empty local database (and sync repos)" }
func (c *initCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.repos, "repos", "", "comma-separated sync repo names to also create")
}

func (c *initCommand) Run(cfg transaction.Config, args []string, stdout, stderr io.Writer) error {
	if err := os.MkdirAll(filepath.Join(cfg.DBPath, "local"), 0755); err != nil {
		return err
	}
	for _, repo := range splitNonEmpty(c.repos, ",") {
		if err := os.MkdirAll(filepath.Join(cfg.DBPath, "sync", repo), 0755); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "initialized database at %s\n", cfg.DBPath)
	return nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// archiveFlag collects repeated "-archive name=path" flags into a map,
// following the stdlib flag.Value pattern for multi-valued flags.
type archiveFlag struct{ m apply.Archives }

func (a *archiveFlag) String() string { return fmt.Sprint(a.m) }
func (a *archiveFlag) Set(s string) error {
	name, path, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected name=path, got %q", s)
	}
	if a.m == nil {
		a.m = apply.Archives{}
	}
	a.m[name] = path
	return nil
}

// installCommand resolves and commits a Sync transaction: it pulls
// candidate packages from the named sync repo (exercising the solver's
// full five phases), then extracts the caller-supplied archives for
// whichever packages the plan ends up adding.
type installCommand struct {
	repo     string
	archives archiveFlag
	noDeps   bool
}

func (c *installCommand) Name() string      { return "install" }
func (c *installCommand) Args() string      { return "<name>..." }
func (c *installCommand) ShortHelp() string { return "resolve and install packages from a sync repo" }
func (c *installCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.repo, "repo", "core", "sync repo to resolve targets against")
	fs.Var(&c.archives, "archive", "name=path, repeatable, supplies the archive for one resolved package")
	fs.BoolVar(&c.noDeps, "nodeps", false, "skip dependency resolution (solver.Flags.NoDeps)")
}

func (c *installCommand) Run(cfg transaction.Config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("install requires at least one package name")
	}

	log, audit, closeLog := newLoggers(cfg, stderr)
	defer closeLog()

	caps := transaction.Capabilities{
		Archive:   tarArchiveReader{},
		Hasher:    fileHasher{},
		Scriptlet: newExecScriptlet(),
		Events:    stderrSinks{w: stderr},
		Questions: stderrSinks{w: stderr},
		Progress:  stderrSinks{w: stderr},
		Log:       log,
		Audit:     audit,
	}

	ctrl, err := transaction.New(cfg, []string{c.repo}, caps)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	txn, err := ctrl.Init(solver.Sync, solver.Flags{NoDeps: c.noDeps})
	if err != nil {
		return err
	}
	defer ctrl.Release()

	for _, name := range args {
		if err := txn.AddTarget(name); err != nil {
			return err
		}
	}

	plan, err := txn.Prepare()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "plan: %d to add, %d to remove (replacements: %d)\n",
		len(plan.Adds), len(plan.Removes), len(plan.Replaces))
	for _, p := range plan.Adds {
		fmt.Fprintf(stdout, "  + %s %s\n", p.Name, p.Version)
	}

	if err := txn.Commit(c.archives.m, apply.Options{RootPath: cfg.RootPath}); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "install committed")
	return nil
}

// removeCommand runs a pure Remove transaction, symmetric to install.
type removeCommand struct {
	noSave bool
}

func (c *removeCommand) Name() string      { return "remove" }
func (c *removeCommand) Args() string      { return "<name>..." }
func (c *removeCommand) ShortHelp() string { return "remove installed packages" }
func (c *removeCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&c.noSave, "nosave", false, "don't write .pacsave sidecars for modified backup files")
}

func (c *removeCommand) Run(cfg transaction.Config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("remove requires at least one package name")
	}

	log, audit, closeLog := newLoggers(cfg, stderr)
	defer closeLog()

	caps := transaction.Capabilities{
		Archive:   tarArchiveReader{},
		Hasher:    fileHasher{},
		Scriptlet: newExecScriptlet(),
		Events:    stderrSinks{w: stderr},
		Questions: stderrSinks{w: stderr},
		Progress:  stderrSinks{w: stderr},
		Log:       log,
		Audit:     audit,
	}

	ctrl, err := transaction.New(cfg, nil, caps)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	txn, err := ctrl.Init(solver.Remove, solver.Flags{})
	if err != nil {
		return err
	}
	defer ctrl.Release()

	for _, name := range args {
		if err := txn.AddTarget(name); err != nil {
			return err
		}
	}

	plan, err := txn.Prepare()
	if err != nil {
		return err
	}
	for _, p := range plan.Removes {
		fmt.Fprintf(stdout, "  - %s %s\n", p.Name, p.Version)
	}

	if err := txn.Commit(nil, apply.Options{RootPath: cfg.RootPath, NoSave: c.noSave}); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "remove committed")
	return nil
}

// queryCommand lists the local database directly: a read path needs
// neither the transaction lock nor any capability, so it opens db.Database
// on its own rather than going through a Controller.
type queryCommand struct{}

func (c *queryCommand) Name() string              { return "query" }
func (c *queryCommand) Args() string               { return "" }
func (c *queryCommand) ShortHelp() string          { return "list installed packages" }
func (c *queryCommand) Register(fs *flag.FlagSet) {}

func (c *queryCommand) Run(cfg transaction.Config, args []string, stdout, stderr io.Writer) error {
	local, err := db.Open(filepath.Join(cfg.DBPath, "local"), nil)
	if err != nil {
		return err
	}
	local.Each(func(p *pkg.Package) {
		fmt.Fprintf(stdout, "%s %s\n", p.Name, p.Version)
	})
	return nil
}
