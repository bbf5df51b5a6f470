//go:build windows

package toolrunner

import "os/exec"

func killedBySIGKILL(*exec.ExitError) bool { return false }

func signalName(*exec.ExitError) string { return "" }
