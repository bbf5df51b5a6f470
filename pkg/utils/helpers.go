package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func HumanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func HumanizeBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}

// VirtualEnv is what DetectVirtualEnv found at a directory.
type VirtualEnv struct {
	Path      string
	Found     bool
	HasPython bool
}

// DetectVirtualEnv looks for a Python virtualenv at dir. Only used for
// diagnostics; nothing is activated.
func DetectVirtualEnv(dir string) VirtualEnv {
	venv := VirtualEnv{Path: dir}
	if dir == "" || !DirExists(dir) {
		return venv
	}
	venv.Found = true
	venv.HasPython = FileExists(filepath.Join(dir, "bin", "python3"))
	return venv
}
