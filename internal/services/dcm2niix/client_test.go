package dcm2niix_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"bidskit/internal/services"
	"bidskit/internal/services/dcm2niix"
)

type stubExecutor struct {
	lines  []string
	err    error
	calls  int
	binary string
	args   [][]string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	s.calls++
	s.binary = binary
	s.args = append(s.args, append([]string(nil), args...))
	for _, line := range s.lines {
		onOutput(line)
	}
	return s.err
}

type blockingExecutor struct{}

func (blockingExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConvertBuildsCommandLine(t *testing.T) {
	exec := &stubExecutor{lines: []string{"Chris Rorden's dcm2niiX version v1.0.20240202", "Convert 176 DICOM as /out/sub-01_T1w"}}
	client, err := dcm2niix.New("/opt/mricron", "", 0, dcm2niix.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "anat")
	err = client.Convert(context.Background(), dcm2niix.Request{
		Source:   "/raw/sub-01/003_t1",
		OutDir:   outDir,
		Filename: "sub-01_T1w",
		Args:     "-b y  -z y -x y",
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if exec.binary != "/opt/mricron/dcm2niix" {
		t.Fatalf("unexpected binary %q", exec.binary)
	}
	want := []string{"-b", "y", "-z", "y", "-x", "y", "-f", "sub-01_T1w", "-o", outDir, "/raw/sub-01/003_t1"}
	if !slices.Equal(exec.args[0], want) {
		t.Fatalf("args = %v\nwant   %v", exec.args[0], want)
	}
	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output folder to be created: %v", err)
	}
}

func TestConvertWrapsFailures(t *testing.T) {
	exec := &stubExecutor{lines: []string{"Error: Unable to determine slice direction"}, err: errors.New("exit status 1")}
	client, err := dcm2niix.New("", "dcm2niix", 0, dcm2niix.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = client.Convert(context.Background(), dcm2niix.Request{Source: "/raw/a", OutDir: t.TempDir(), Filename: "sub-01_T1w"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "slice direction") {
		t.Fatalf("expected converter message in error, got %v", err)
	}
}

func TestConvertTimeout(t *testing.T) {
	client, err := dcm2niix.New("", "", 10*time.Millisecond, dcm2niix.WithExecutor(blockingExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = client.Convert(context.Background(), dcm2niix.Request{Source: "/raw/a", OutDir: t.TempDir(), Filename: "x"})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestConvertValidatesRequest(t *testing.T) {
	exec := &stubExecutor{}
	client, _ := dcm2niix.New("", "", 0, dcm2niix.WithExecutor(exec))
	err := client.Convert(context.Background(), dcm2niix.Request{Source: "/raw/a"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if exec.calls != 0 {
		t.Fatal("executor should not run for an invalid request")
	}
}

func TestNewRejectsPathInBinaryWithDir(t *testing.T) {
	if _, err := dcm2niix.New("/opt", "/usr/bin/dcm2niix", 0); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCheckReturnsVersion(t *testing.T) {
	exec := &stubExecutor{lines: []string{"Chris Rorden's dcm2niiX version v1.0.20240202  GCC12.2.0 x86-64 (64-bit Linux)", "Newer version available"}}
	client, _ := dcm2niix.New("", "", 0, dcm2niix.WithExecutor(exec))
	version, err := client.Check(context.Background())
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !strings.Contains(version, "v1.0.20240202") {
		t.Fatalf("unexpected version %q", version)
	}
	if !slices.Equal(exec.args[0], []string{"-u"}) {
		t.Fatalf("unexpected args %v", exec.args[0])
	}
}

func TestCheckMissingBinary(t *testing.T) {
	client, _ := dcm2niix.New(t.TempDir(), "dcm2niix", 0)
	if _, err := client.Check(context.Background()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCheckRunsRealBinary(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\necho \"Chris Rorden's dcm2niiX version v1.0.20230411\"\nexit 0\n"
	if err := os.WriteFile(filepath.Join(dir, "dcm2niix"), []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	client, _ := dcm2niix.New(dir, "", 0)
	version, err := client.Check(context.Background())
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !strings.HasSuffix(version, "v1.0.20230411") {
		t.Fatalf("unexpected version %q", version)
	}
}
