package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Namespace != "todoline" || cfg.List.Insert != InsertPrepend || cfg.History.Limit != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path = %q", cfg.Server.BasePath)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("list:\n  insert: append\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.List.Insert != InsertAppend || cfg.History.Limit != 100 || cfg.Storage.Namespace != "todoline" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"insert":    "list:\n  insert: middle\n",
		"limit":     "list:\n  limit: -1\n",
		"history":   "history:\n  limit: -3\n",
		"namespace": "storage:\n  namespace: \"a b\"\n",
		"level":     "log:\n  level: loud\n",
		"base":      "server:\n  base_path: v0\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "todoline.toml")
	if err := os.WriteFile(tomlPath, []byte("[list]\nlimit = 5\n\n[history]\nlimit = 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.List.Limit != 5 || cfg.History.Limit != 10 || cfg.List.Insert != InsertPrepend {
		t.Fatalf("unexpected toml config: %+v", cfg)
	}

	if err := os.WriteFile(tomlPath, []byte("[list]\nlimt = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(tomlPath); err == nil || !strings.Contains(err.Error(), "limt") {
		t.Fatalf("expected unknown key error, got %v", err)
	}

	yamlPath := Path(dir)
	if err := os.WriteFile(yamlPath, []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(yamlPath); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(Path(dir))
	if err != nil || cfg == nil {
		t.Fatalf("LoadOptional missing file: %v", err)
	}
	if _, err := Load(Path(dir)); err == nil {
		t.Fatalf("Load should fail for a missing file")
	}
}

func TestYAMLRedactsSecret(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = "hunter2"
	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked: %s", out)
	}
	if cfg.Server.JWTSecret != "hunter2" {
		t.Fatalf("YAML must not modify the config")
	}
}
