package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/cortex/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.DataRoot = dir
	cfg.Database.Backend = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "cortex.db")
	cfg.Memory.Async = false
	cfg.Archive.Enabled = false
	cfg.Observer.Enabled = false
	cfg.Embedding.URL = ""
	return cfg
}

func TestNew_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Persona state lives directly under the data root.
	if _, err := os.Stat(filepath.Join(cfg.Server.DataRoot, "personas.json")); err != nil {
		t.Errorf("personas.json not under data root: %v", err)
	}
	if a.srv == nil {
		t.Fatal("no http server wired")
	}
	if a.worker != nil {
		t.Error("worker wired with async memory disabled")
	}
	if a.archiver != nil {
		t.Error("archiver wired while disabled")
	}
	if a.rdb != nil {
		t.Error("redis client created without redis backend or async memory")
	}
	a.close()
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Backend = "etcd"
	_, err := New(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "etcd") {
		t.Errorf("error %q does not name the backend", err)
	}
}
