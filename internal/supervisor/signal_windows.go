//go:build windows

package supervisor

import "os"

// Windows has no SIGTERM delivery for unrelated processes; both paths
// terminate the backend directly.
func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
