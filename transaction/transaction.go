// Package transaction implements component C7: the controller that owns
// the transaction state machine, the filesystem lock file serializing
// access to the databases, and the event/question/progress dispatch to
// the front-end, sequencing calls into the db, solver and apply packages
// per spec.md §4.7.
//
// The lock file mechanics mirror golang-dep's SourceMgr: NewSourceManager
// creates cachedir/sm.lock with O_CREATE|O_EXCL and refuses a second
// instance while it exists; Controller does the same with a single
// configured path instead of a fixed name under a cache directory.
package transaction

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/internal/xlog"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
	"github.com/devkitPro/pacman-sub000/solver"
	"github.com/devkitPro/pacman-sub000/syncdb"
	"github.com/devkitPro/pacman-sub000/txnerr"
)

// State is one node of the transaction lifecycle spec.md §4.7 diagrams:
//
//	Idle -> Initialized -> Prepared -> Committing -> Committed -> Idle
//	                                        |
//	                                        v
//	                                   Interrupted -> Committed
type State int

const (
	Idle State = iota
	Initialized
	Prepared
	Committing
	Committed
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Prepared:
		return "prepared"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Config bundles the configuration surface spec.md §6 describes: resolved
// filesystem locations and the ignore/hold package sets the controller and
// solver both consult. Parsing this from a config file is out of scope
// (spec.md's Non-goals) - callers build one directly.
type Config struct {
	RootPath string
	DBPath   string
	CacheDir string
	LockFile string
	LogFile  string

	NoUpgrade map[string]bool
	NoExtract map[string]bool
	IgnorePkg map[string]bool
	HoldPkg   map[string]bool

	// SyncCachePath, if set, names a bolt file the controller consults
	// (syncdb.Cache) to seed a sync repo's in-memory snapshot when its
	// on-disk database has not been synced yet, and refreshes after
	// successfully opening the repo from disk. Empty disables the cache
	// entirely.
	SyncCachePath string
}

func (c Config) lockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return filepath.Join(c.DBPath, "db.lck")
}

// Capabilities bundles every port implementation the controller hands down
// to the solver and the apply engine, plus the sinks the front-end
// supplies to observe a running transaction.
type Capabilities struct {
	Archive   ports.ArchiveReader
	Hasher    ports.Hasher
	Signer    ports.Signer
	Scriptlet ports.ScriptletRunner

	Events    ports.EventSink
	Questions ports.QuestionSink
	Progress  ports.ProgressSink

	Log   *xlog.Logger
	Audit *xlog.AuditLog
}

// Controller is the single per-process owner of the transaction lock and
// the local/sync databases; spec.md §4.7 allows at most one live
// transaction at a time, enforced by Init's lock file.
type Controller struct {
	cfg  Config
	caps Capabilities

	local     *db.Database
	sync      []*db.Database
	syncCache *syncdb.Cache

	// commitMu is held for the duration of Commit; Release acquires it
	// before touching shared state so a concurrent Release (e.g. called
	// from a signal handler goroutine while Commit runs on the caller's
	// goroutine) blocks until the in-progress target finishes, matching
	// spec.md §4.7's "refuses until the in-progress target finishes; it
	// then proceeds".
	commitMu sync.Mutex

	mu        sync.Mutex
	state     State
	lockFile  *os.File
	txn       *Txn
	interrupt *interruptFlag
}

// New opens the local database and every named sync database under
// cfg.DBPath, leaving the controller Idle. syncRepoNames may be empty for
// a transaction that only ever touches the local database (a plain
// Remove).
func New(cfg Config, syncRepoNames []string, caps Capabilities) (*Controller, error) {
	log := caps.Log
	if log == nil {
		log = xlog.Std()
	}

	local, err := db.Open(filepath.Join(cfg.DBPath, "local"), log)
	if err != nil {
		return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: err}
	}

	var cache *syncdb.Cache
	if cfg.SyncCachePath != "" {
		cache, err = syncdb.Open(cfg.SyncCachePath)
		if err != nil {
			return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: err}
		}
	}
	ok := false
	defer func() {
		if !ok && cache != nil {
			cache.Close()
		}
	}()

	var syncs []*db.Database
	for _, name := range syncRepoNames {
		path := filepath.Join(cfg.DBPath, "sync", name)
		d, err := db.Open(path, log)
		if err != nil {
			if cache == nil || errors.Cause(err) != db.ErrMissing {
				return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: err}
			}
			_, cached, found, cerr := cache.Load(name)
			if cerr != nil {
				return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: cerr}
			}
			if !found {
				return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: err}
			}
			d = db.FromPackages(name, path, cached, log)
		} else if cache != nil {
			if err := refreshSyncCache(cache, name, d); err != nil {
				return nil, &txnerr.Error{Kind: txnerr.DbOpen, Cause: err}
			}
		}
		syncs = append(syncs, d)
	}

	ok = true
	return &Controller{cfg: cfg, caps: caps, local: local, sync: syncs, syncCache: cache, state: Idle}, nil
}

// refreshSyncCache stores every package d currently carries (materializing
// every section, since the cache's packages are used offline with no
// backing directory to lazy-load sections from later) under repoName,
// keeping the cache warm for a future run that finds the on-disk database
// missing.
func refreshSyncCache(cache *syncdb.Cache, repoName string, d *db.Database) error {
	pkgs := make([]*pkg.Package, 0, d.Len())
	var loadErr error
	d.Each(func(p *pkg.Package) {
		if loadErr != nil {
			return
		}
		if err := d.LoadSections(p, db.SectionAll); err != nil {
			loadErr = err
			return
		}
		pkgs = append(pkgs, p)
	})
	if loadErr != nil {
		return loadErr
	}
	return cache.Store(repoName, time.Now(), pkgs)
}

// Close releases the controller's sync cache, if one is open. Safe to
// call on a Controller built with no SyncCachePath.
func (c *Controller) Close() error {
	if c.syncCache == nil {
		return nil
	}
	return c.syncCache.Close()
}

// Local returns the controller's open local database.
func (c *Controller) Local() *db.Database { return c.local }

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) fire(kind ports.EventKind, arg1, arg2 interface{}) {
	if c.caps.Events != nil {
		c.caps.Events.Event(ports.Event{Kind: kind, Arg1: arg1, Arg2: arg2})
	}
}

func (c *Controller) ask(kind ports.QuestionKind, arg1, arg2, arg3 interface{}) bool {
	if c.caps.Questions == nil {
		return false
	}
	return c.caps.Questions.Ask(ports.Question{Kind: kind, Arg1: arg1, Arg2: arg2, Arg3: arg3})
}

func (c *Controller) audit(format string, args ...interface{}) {
	if c.caps.Audit != nil {
		c.caps.Audit.Infof(format, args...)
	}
}

// Txn is one in-flight transaction, holding the targets and flags the
// caller accumulates between Init and Commit. A Controller owns at most
// one Txn at a time.
type Txn struct {
	ctrl *Controller

	Kind    solver.Kind
	Flags   solver.Flags
	Targets []string

	Plan *solver.Plan
}

// Init transitions the controller from Idle to Initialized, taking the
// filesystem lock. A pre-existing lock file fails with HandleLock: either
// another process holds the transaction or a previous one crashed without
// releasing it.
func (c *Controller) Init(kind solver.Kind, flags solver.Flags) (*Txn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return nil, &txnerr.Error{Kind: txnerr.TransNotNull}
	}

	lockPath := c.cfg.lockPath()
	if err := ensureParentDir(lockPath); err != nil {
		return nil, &txnerr.Error{Kind: txnerr.HandleLock, Cause: err}
	}
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, &txnerr.Error{Kind: txnerr.HandleLock, Cause: err}
	}

	c.lockFile = f
	c.state = Initialized
	c.txn = &Txn{ctrl: c, Kind: kind, Flags: flags}
	c.audit("transaction started")
	return c.txn, nil
}

// AddTarget appends name to the transaction's target list, rejecting a
// duplicate the way libalpm's alpm_add_target reports TransDupTarget.
func (t *Txn) AddTarget(name string) error {
	c := t.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Initialized {
		return &txnerr.Error{Kind: txnerr.TransNotInitialized}
	}
	for _, existing := range t.Targets {
		if existing == name {
			return &txnerr.Error{Kind: txnerr.TransDupTarget, Cause: errDupTarget(name)}
		}
	}
	t.Targets = append(t.Targets, name)
	return nil
}

type dupTargetError string

func (e dupTargetError) Error() string { return "duplicate target: " + string(e) }

func errDupTarget(name string) error { return dupTargetError(name) }

// Release tears the transaction down unconditionally, removing the lock
// file and returning the controller to Idle. If a Commit is in progress,
// Release interrupts it and blocks until the in-progress target finishes
// and Commit returns, per spec.md §4.7.
func (c *Controller) Release() error {
	c.Interrupt()
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		return nil
	}
	if c.lockFile != nil {
		c.lockFile.Close()
		os.Remove(c.cfg.lockPath())
		c.lockFile = nil
	}
	c.state = Idle
	c.txn = nil
	c.audit("transaction released")
	return nil
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
