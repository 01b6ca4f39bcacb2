// Package framepad normalizes interpolated frame file names.
package framepad

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Width returns the number of digits needed to number frames frames.
func Width(frames int) int {
	if frames < 1 {
		return 1
	}
	return len(strconv.Itoa(frames))
}

// ListFrames returns the names of regular files in dir whose extension is
// one of exts (without dot, case-insensitive), sorted. An empty exts
// matches every file.
func ListFrames(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(exts) > 0 && !hasExt(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CountFrames returns len(ListFrames(dir, exts...)).
func CountFrames(dir string, exts ...string) (int, error) {
	names, err := ListFrames(dir, exts...)
	return len(names), err
}

func hasExt(name string, exts []string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	for _, e := range exts {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// ZeroPadDir renames every numerically named frame with extension ext in
// dir to a zero-padded name of the given width, e.g. "7.png" -> "00000007.png".
// Files whose stem is not a number are left alone. It returns the number
// of files renamed.
func ZeroPadDir(dir, ext string, width int) (int, error) {
	names, err := ListFrames(dir, ext)
	if err != nil {
		return 0, fmt.Errorf("failed to list frames: %w", err)
	}

	renamed := 0
	for _, name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		n, err := strconv.Atoi(stem)
		if err != nil || n < 0 {
			continue
		}

		target := fmt.Sprintf("%0*d%s", width, n, filepath.Ext(name))
		if target == name {
			continue
		}

		targetPath := filepath.Join(dir, target)
		if _, err := os.Stat(targetPath); err == nil {
			return renamed, fmt.Errorf("cannot pad %s: %s already exists", name, target)
		}
		if err := os.Rename(filepath.Join(dir, name), targetPath); err != nil {
			return renamed, fmt.Errorf("failed to rename %s: %w", name, err)
		}
		renamed++
	}
	return renamed, nil
}
