package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"bidskit/internal/config"
)

type stubChecker struct {
	version string
	err     error
}

func (s stubChecker) Check(context.Context) (string, error) {
	return s.version, s.err
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCreatable(t *testing.T) {
	root := t.TempDir()
	result := CheckCreatable("bids", filepath.Join(root, "study", "bids"))
	if !result.Passed {
		t.Fatalf("expected pass below a writable parent, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}

	existing := CheckCreatable("bids", root)
	if !existing.Passed || !strings.Contains(existing.Detail, "read/write ok") {
		t.Fatalf("existing dir: %+v", existing)
	}
}

func TestCheckConverter(t *testing.T) {
	ok := CheckConverter(context.Background(), stubChecker{version: "v1.0.20240202"})
	if !ok.Passed || ok.Detail != "v1.0.20240202" {
		t.Fatalf("unexpected result: %+v", ok)
	}

	failed := CheckConverter(context.Background(), stubChecker{err: errors.New("not found")})
	if failed.Passed || failed.Detail != "not found" {
		t.Fatalf("unexpected result: %+v", failed)
	}

	if missing := CheckConverter(context.Background(), nil); missing.Passed {
		t.Fatal("expected failure without a checker")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, Target{}, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a unix shell")
	}
	pluginDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(pluginDir, "dcm2niix"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", "")

	cfg := config.Default()
	target := Target{
		RawFolder:  t.TempDir(),
		BidsFolder: filepath.Join(t.TempDir(), "bids"),
		PluginPath: pluginDir,
	}
	results := RunAll(context.Background(), &cfg, target, stubChecker{version: "v1"})

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	if got := strings.Join(names, ","); got != "Source folder,BIDS folder,dcm2niix,pigz,dcm2niix" {
		t.Fatalf("checks = %s", got)
	}
	failed := Failed(results)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if results[3].Passed || !results[3].Optional {
		t.Fatalf("pigz should be reported as a missing optional tool: %+v", results[3])
	}
}

func TestFailed(t *testing.T) {
	results := []Result{
		{Name: "a", Passed: true},
		{Name: "b", Passed: false, Optional: true},
		{Name: "c", Passed: false},
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "c" {
		t.Fatalf("Failed() = %+v", failed)
	}
}
