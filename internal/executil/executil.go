// Package executil resolves and builds commands for tool-server
// subprocesses using a sanitized PATH.
package executil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var defaultSafeDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
	"/opt/homebrew/bin",
}

// Command builds an exec.Cmd with the executable resolved against a
// sanitized PATH. Relative names are looked up only in world-unwritable
// directories; absolute paths pass through untouched.
func Command(name string, args ...string) (*exec.Cmd, error) {
	dirs := safePathDirs()
	path, err := findExecutable(name, dirs)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	cmd.Env = safeEnv(dirs)
	return cmd, nil
}

func safeEnv(dirs []string) []string {
	if len(dirs) == 0 {
		return os.Environ()
	}
	safePath := strings.Join(dirs, string(os.PathListSeparator))
	return replaceEnv(os.Environ(), "PATH", safePath)
}

func safePathDirs() []string {
	seen := make(map[string]struct{})
	dirs := make([]string, 0, len(defaultSafeDirs))

	add := func(dir string, requireSafe bool) {
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if !filepath.IsAbs(dir) {
			return
		}
		if _, ok := seen[dir]; ok {
			return
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			if requireSafe {
				return
			}
		} else if requireSafe && info.Mode().Perm()&0o022 != 0 {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	for _, dir := range defaultSafeDirs {
		add(dir, true)
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		add(dir, true)
	}
	if len(dirs) == 0 {
		for _, dir := range defaultSafeDirs {
			add(dir, false)
		}
	}
	return dirs
}

func findExecutable(name string, dirs []string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		cleaned := filepath.Clean(name)
		if isExecutable(cleaned) {
			return cleaned, nil
		}
		return "", fmt.Errorf("executable not found: %s", name)
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("executable not found in safe PATH: %s", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

func replaceEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	if value != "" {
		out = append(out, prefix+value)
	}
	return out
}
