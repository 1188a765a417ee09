package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"studio/internal/config"
)

// Requirement defines an external dependency the studio daemon relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// GPUCommand is the probe used for VRAM and utilization sampling.
const GPUCommand = "nvidia-smi"

// Requirements lists the binaries cfg depends on. The generator is required
// only while the runner is enabled.
func Requirements(cfg *config.Config) []Requirement {
	reqs := make([]Requirement, 0, 2)
	if cfg != nil && cfg.Runner.Enabled {
		command := ""
		if len(cfg.Runner.Command) > 0 {
			command = cfg.Runner.Command[0]
		}
		reqs = append(reqs, Requirement{
			Name:        "Generator",
			Command:     command,
			Description: "Runs queued generation jobs",
		})
	}
	reqs = append(reqs, Requirement{
		Name:        "GPU probe",
		Command:     GPUCommand,
		Description: "Reports VRAM and GPU utilization",
		Optional:    true,
	})
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Optional && !s.Available {
			missing = append(missing, s)
		}
	}
	return missing
}
