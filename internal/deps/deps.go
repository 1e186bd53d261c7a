package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external program and whether coining needs it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after lookup.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// CheckBinaries looks every requirement up on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		results = append(results, lookPath(Status{Requirement: req}))
	}
	return results
}

func lookPath(status Status) Status {
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}
