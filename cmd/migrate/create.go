package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	versionPrefix = regexp.MustCompile(`^(\d+)_`)
	unsafeName    = regexp.MustCompile(`[^a-z0-9_]+`)
)

// createMigration writes empty NNNNNN_name.up.sql/.down.sql files numbered
// one past the highest existing version
func createMigration(dir, name string) (string, string, error) {
	name = unsafeName.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "", "", fmt.Errorf("migration name is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migrations directory: %w", err)
	}

	next := 1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := versionPrefix.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v >= next {
			next = v + 1
		}
	}

	base := fmt.Sprintf("%06d_%s", next, name)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")

	if err := os.WriteFile(up, []byte("-- "+name+"\n"), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(down, []byte("-- revert "+name+"\n"), 0o644); err != nil {
		os.Remove(up)
		return "", "", err
	}
	return up, down, nil
}
