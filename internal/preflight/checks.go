package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"bidskit/internal/config"
	"bidskit/internal/deps"
)

// VersionChecker runs the converter's version query.
type VersionChecker interface {
	Check(ctx context.Context) (string, error)
}

// CheckConverter runs the converter once to confirm it starts. It uses a
// 30-second timeout.
func CheckConverter(ctx context.Context, checker VersionChecker) Result {
	const name = "dcm2niix"
	if checker == nil {
		return Result{Name: name, Detail: "converter not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	version, err := checker.Check(checkCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Detail: "version check timed out"}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	if version == "" {
		version = "version unknown"
	}
	return Result{Name: name, Passed: true, Detail: version}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
func CheckDirectoryReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

// CheckCreatable verifies that path is a writable directory or can be
// created below its nearest existing parent.
func CheckCreatable(name, path string) Result {
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	}
	parent := filepath.Dir(path)
	for {
		if _, err := os.Stat(parent); err == nil {
			break
		}
		next := filepath.Dir(parent)
		if next == parent {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent)", path)}
		}
		parent = next
	}
	res := CheckDirectoryAccess(name, parent)
	if !res.Passed {
		return res
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

func checkDirectory(name, path string, mode uint32, ok string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, ok)}
}

// CheckSystemDeps evaluates the external programs coining relies on. The
// plugin path is the bidsmap folder that holds dcm2niix, if any.
func CheckSystemDeps(cfg *config.Config, pluginPath string) []deps.Status {
	statuses := []deps.Status{deps.ResolveConverter(pluginPath, cfg.Converter.Binary)}
	return append(statuses, deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "pigz",
			Command:     "pigz",
			Description: "Parallel gzip used by dcm2niix -z y",
			Optional:    true,
		},
	})...)
}
