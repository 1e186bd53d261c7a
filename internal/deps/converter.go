package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveConverter reports the dcm2niix binary a plugin will execute.
//
// A plugin path (the bidsmap "path" option) names the folder holding the
// converter and takes precedence; without one the binary is resolved from
// PATH. An absolute binary is used as is.
func ResolveConverter(pluginPath, binary string) Status {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "dcm2niix"
	}
	result := Status{Requirement: Requirement{
		Name:        "dcm2niix",
		Command:     binary,
		Description: "Converts DICOM and PAR/REC sources to NIfTI",
	}}

	if dir := strings.TrimSpace(pluginPath); dir != "" && !filepath.IsAbs(binary) {
		candidate := filepath.Join(dir, executableName(binary))
		result.Command = candidate
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			result.Available = true
			return result
		}
		result.Detail = fmt.Sprintf("binary %q not found in plugin path", candidate)
		return result
	}
	return lookPath(result)
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
