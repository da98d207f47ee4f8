package utils

import (
	"os"
	"os/exec"
	"strings"
)

// IsTermux returns true if running inside the Termux terminal emulator on Android.
func IsTermux() bool {
	if os.Getenv("TERMUX_VERSION") != "" {
		return true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	return strings.Contains(home, "com.termux")
}

// HasCommand reports whether name resolves on PATH (e.g. "termux-camera-photo").
func HasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
