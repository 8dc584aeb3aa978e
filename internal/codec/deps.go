package codec

import (
	"fmt"
	"os/exec"
	"strings"
)

// BinaryStatus reports the availability of an external binary.
type BinaryStatus struct {
	Name      string
	Command   string
	Available bool
	Detail    string
}

// CheckBinary resolves command on PATH.
func CheckBinary(name, command string) BinaryStatus {
	cmd := strings.TrimSpace(command)
	status := BinaryStatus{Name: name, Command: cmd}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	status.Available = true
	status.Detail = resolved
	return status
}
