//go:build windows

package toolexec

import "os/exec"

// setupProcessGroup is a no-op on Windows; cancellation still kills the
// direct child.
func setupProcessGroup(_ *exec.Cmd) {}
