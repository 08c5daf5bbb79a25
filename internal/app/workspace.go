package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"todoline/internal/config"
	"todoline/internal/db"
	"todoline/internal/engine"
	"todoline/internal/logging"
	"todoline/internal/migrate"
	"todoline/internal/repo"
	"todoline/internal/storage"
)

// Options selects a workspace and how to open it.
type Options struct {
	Workspace string
	// ConfigPath defaults to todoline.yml inside the workspace.
	ConfigPath string
	// Ephemeral keeps everything in memory; nothing is read from or written to disk.
	Ephemeral bool
	// LogLevel overrides config log.level when set.
	LogLevel  string
	LogWriter io.Writer
}

// Workspace is an opened to-do list: config, storage backend, logger and the
// initialized engine.
type Workspace struct {
	Dir        string
	ConfigPath string
	Config     *config.Config
	Logger     *log.Logger
	Engine     *engine.Engine

	conn   *sql.DB
	repo   *repo.Repo
	memory *storage.Memory
}

// Open loads config, opens the storage backend, applies migrations and
// initializes the engine from stored state.
func Open(opts Options) (*Workspace, error) {
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	path := opts.ConfigPath
	if path == "" {
		path = config.Path(opts.Workspace)
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		if err := logging.ValidateLevel(opts.LogLevel); err != nil {
			return nil, err
		}
		level = opts.LogLevel
	}
	logger := logging.New(opts.LogWriter, logging.Options{Level: level, Format: cfg.Log.Format, Prefix: "td"})

	w := &Workspace{Dir: opts.Workspace, ConfigPath: path, Config: cfg, Logger: logger}
	var kv storage.KV
	if opts.Ephemeral {
		w.memory = storage.NewMemory()
		kv = w.memory
	} else {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		w.conn = conn
		w.repo = &repo.Repo{DB: conn}
		kv = w.repo
		logger.Debug("workspace opened", "db", db.Path(opts.Workspace))
	}
	w.Engine = engine.New(engine.OptionsFromConfig(cfg, kv, logger))
	w.Engine.Init()
	return w, nil
}

func (w *Workspace) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Keys lists the stored entries of this workspace's namespace.
func (w *Workspace) Keys(ctx context.Context) ([]repo.Entry, error) {
	prefix := w.Config.Storage.Namespace + "."
	if w.repo != nil {
		return w.repo.Keys(ctx, prefix)
	}
	keys, err := w.memory.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]repo.Entry, 0, len(keys))
	for _, k := range keys {
		v, err := w.memory.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		entries = append(entries, repo.Entry{Key: k, Bytes: len(v)})
	}
	return entries, nil
}

// Reset deletes every stored key of this workspace's namespace. The engine
// keeps its in-memory state; reopen the workspace to start fresh.
func (w *Workspace) Reset(ctx context.Context) (int64, error) {
	prefix := w.Config.Storage.Namespace + "."
	if w.repo != nil {
		return w.repo.DeletePrefix(ctx, prefix)
	}
	keys, err := w.memory.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if err := w.memory.Delete(ctx, k); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// CheckStorage turns a failed read or write of the tasks or their history
// into an error the CLI can report. Changes are kept in memory only.
func (w *Workspace) CheckStorage() error {
	if err := w.Engine.StorageErr(); err != nil {
		return fmt.Errorf("storage unavailable, changes not saved: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means an unknown task or snapshot.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

// SplitRefs accepts refs given as separate args or comma-separated lists.
func SplitRefs(args []string) []string {
	var out []string
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
