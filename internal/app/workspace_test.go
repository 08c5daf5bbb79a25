package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"todoline/internal/app"
	"todoline/internal/config"
	"todoline/internal/engine"
)

func TestOpenPersistsBetweenRuns(t *testing.T) {
	dir := t.TempDir()
	w, err := app.Open(app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Engine.Add(engine.AddOptions{Label: "water plants"}); err != nil {
		t.Fatal(err)
	}
	if err := w.CheckStorage(); err != nil {
		t.Fatal(err)
	}
	entries, err := w.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected items, history and index keys, got %+v", entries)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	again, err := app.Open(app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if tasks := again.Engine.Tasks(); len(tasks) != 1 || tasks[0].Label != "water plants" {
		t.Fatalf("tasks after reopen: %+v", tasks)
	}
	n, err := again.Reset(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("reset: %d %v", n, err)
	}
}

func TestOpenUsesConfigNamespace(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "todoline.toml")
	if err := os.WriteFile(cfgPath, []byte("[storage]\nnamespace = \"work\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := app.Open(app.Options{Workspace: dir, ConfigPath: cfgPath, Ephemeral: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()
	w.Engine.Add(engine.AddOptions{Label: "x"})
	entries, _ := w.Keys(context.Background())
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, "work.") {
			t.Fatalf("unexpected key %s", e.Key)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".todoline")); !os.IsNotExist(err) {
		t.Fatalf("ephemeral workspace touched disk")
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("list:\n  insert: sideways\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Open(app.Options{Workspace: dir, Ephemeral: true}); err == nil {
		t.Fatalf("expected config error")
	}
	if _, err := app.Open(app.Options{Workspace: t.TempDir(), Ephemeral: true, LogLevel: "chatty"}); err == nil {
		t.Fatalf("expected log level error")
	}
}

func TestSplitRefs(t *testing.T) {
	got := app.SplitRefs([]string{"1,2", " 3 ", ","})
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("SplitRefs = %v", got)
	}
}
