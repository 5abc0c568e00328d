// Command pactrans is a thin demonstration CLI exercising the
// transaction engine end to end against real capability implementations
// (a tar/tar.gz ArchiveReader, an exec.Command ScriptletRunner, a sha256
// Hasher). It is scaffolding to drive and smoke-test the core, not a
// product front-end: the core's own Non-goals (spec.md §1) - no config
// file parsing, no network transport, no plugin DSL - apply here too.
// Modeled on golang-dep's cmd/dep/main.go command-table dispatch.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/devkitPro/pacman-sub000/internal/xlog"
	"github.com/devkitPro/pacman-sub000/transaction"
)

// command is the per-subcommand contract, the same shape as golang-dep's
// cmd/dep command interface minus the project-root discovery dep itself
// needs and this module has no use for.
type command interface {
	Name() string
	Args() string
	ShortHelp() string
	Register(*flag.FlagSet)
	Run(cfg transaction.Config, args []string, stdout, stderr io.Writer) error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	commands := []command{
		&initCommand{},
		&installCommand{},
		&removeCommand{},
		&queryCommand{},
	}

	errLogger := log.New(stderr, "", 0)
	usage := func() {
		errLogger.Println("pactrans drives the pacman-sub000 transaction engine directly, without a real front-end")
		errLogger.Println()
		errLogger.Println("Usage: pactrans [-dbpath DIR] [-root DIR] <command> [args]")
		errLogger.Println()
		errLogger.Println("Commands:")
		w := tabwriter.NewWriter(stderr, 0, 4, 2, ' ', 0)
		for _, c := range commands {
			fmt.Fprintf(w, "\t%s %s\t%s\n", c.Name(), c.Args(), c.ShortHelp())
		}
		w.Flush()
	}

	if len(args) == 0 {
		usage()
		return 1
	}

	fs := flag.NewFlagSet("pactrans", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "/", "filesystem prefix for all extraction")
	dbPath := fs.String("dbpath", "/var/lib/pactrans", "where local/ and sync/<repo> live")
	cacheDir := fs.String("cachedir", "/var/cache/pactrans", "where downloaded archives are placed")
	lockFile := fs.String("lockfile", "", "transaction lock path (default dbpath/db.lck)")
	syncCache := fs.String("synccache", "", "bolt-backed sync repo cache path (default cachedir/sync.cache; disabled only when -cachedir is empty too)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		return 1
	}

	cfg := transaction.Config{
		RootPath:      *root,
		DBPath:        *dbPath,
		CacheDir:      *cacheDir,
		LockFile:      *lockFile,
		SyncCachePath: *syncCache,
	}
	if cfg.SyncCachePath == "" && *cacheDir != "" {
		cfg.SyncCachePath = filepath.Join(*cacheDir, "sync.cache")
	}

	for _, c := range commands {
		if c.Name() != rest[0] {
			continue
		}
		sub := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
		sub.SetOutput(stderr)
		c.Register(sub)
		if err := sub.Parse(rest[1:]); err != nil {
			return 1
		}
		if err := c.Run(cfg, sub.Args(), stdout, stderr); err != nil {
			errLogger.Printf("pactrans %s: %v", c.Name(), err)
			return 1
		}
		return 0
	}

	usage()
	return 1
}

// newLoggers builds the audit/debug loggers every command's Controller
// needs, writing to cfg.LogFile when set and stderr otherwise.
func newLoggers(cfg transaction.Config, stderr io.Writer) (*xlog.Logger, *xlog.AuditLog, func()) {
	w := stderr
	closer := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644); err == nil {
				w = f
				closer = func() { f.Close() }
			}
		}
	}
	return xlog.New(w, xlog.Error|xlog.Warning), xlog.NewAuditLog(w), closer
}
