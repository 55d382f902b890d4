package util

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUser resolves a leading ~/ against the current user's home
// directory, leaving other paths untouched.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
