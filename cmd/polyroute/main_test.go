package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polyroute/polyroute/internal/app"
	"github.com/polyroute/polyroute/internal/config"
	"github.com/polyroute/polyroute/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "polyroute version dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFunctionsCommand(t *testing.T) {
	out, err := run(t, "functions")
	if err != nil {
		t.Fatalf("functions failed: %v", err)
	}
	var all []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 descriptors, got %d", len(all))
	}

	out, err = run(t, "functions", "round-robin")
	if err != nil {
		t.Fatalf("functions round-robin failed: %v", err)
	}
	if !strings.Contains(out, `"ROUND_ROBIN"`) {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := run(t, "functions", "none"); err == nil {
		t.Error("expected error for NONE")
	}
	if _, err := run(t, "functions", "zigzag"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSnapshotExportAndShow(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("POLYROUTE_CATALOG_TYPE", "sqlite")
	common := []string{"--data-dir", dataDir, "--env-file", filepath.Join(dataDir, "missing.env")}

	out, err := run(t, append([]string{"snapshot", "export", "snapshots/test.snap"}, common...)...)
	if err != nil {
		t.Fatalf("snapshot export failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"object": "snapshots/test.snap"`) {
		t.Errorf("unexpected export output %q", out)
	}

	out, err = run(t, append([]string{"snapshot", "show", "snapshots/test.snap"}, common...)...)
	if err != nil {
		t.Fatalf("snapshot show failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"tables": 0`) {
		t.Errorf("unexpected show output %q", out)
	}

	if _, err := run(t, append([]string{"snapshot", "show", "snapshots/nope.snap"}, common...)...); err == nil {
		t.Error("expected error for a missing snapshot")
	}
}

func openCatalog(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	if err := config.LoadFromEnv(cfg); err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	source, target := t.TempDir(), t.TempDir()
	missingEnv := filepath.Join(source, "missing.env")
	t.Setenv("POLYROUTE_CATALOG_TYPE", "sqlite")
	t.Setenv("POLYROUTE_STORAGE_PATH", filepath.Join(t.TempDir(), "snapshots"))

	cat, err := app.OpenCatalog(openCatalog(t, source))
	if err != nil {
		t.Fatalf("open source catalog: %v", err)
	}
	if _, err := cat.RegisterAdapter(ctx, "hot"); err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	if _, err := cat.CreateTable(ctx, "orders", []types.ColumnDef{{Name: "id", Type: types.ColumnBigInt}}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	cat.Close()

	out, err := run(t, "snapshot", "export", "snapshots/full.snap", "--data-dir", source, "--env-file", missingEnv)
	if err != nil {
		t.Fatalf("snapshot export failed: %v\n%s", err, out)
	}

	out, err = run(t, "snapshot", "restore", "snapshots/full.snap", "--data-dir", target, "--env-file", missingEnv)
	if err != nil {
		t.Fatalf("snapshot restore failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"tables": 1`) {
		t.Errorf("unexpected restore output %q", out)
	}

	restored, err := app.OpenCatalog(openCatalog(t, target))
	if err != nil {
		t.Fatalf("open target catalog: %v", err)
	}
	tables, err := restored.ListTables(ctx)
	restored.Close()
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "orders" {
		t.Errorf("unexpected restored tables %+v", tables)
	}

	if _, err := run(t, "snapshot", "restore", "snapshots/full.snap", "--data-dir", target, "--env-file", missingEnv); err == nil {
		t.Error("expected error restoring into a non-empty catalog")
	}

	t.Setenv("POLYROUTE_CATALOG_TYPE", "memory")
	if _, err := run(t, "snapshot", "restore", "snapshots/full.snap", "--data-dir", target, "--env-file", missingEnv); err == nil {
		t.Error("expected error restoring into a memory catalog")
	}
}
