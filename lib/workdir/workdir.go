// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workdir lists and prepares files from the supervised
// command's working directory for download by the remote viewer.
//
// Only regular, non-hidden files directly inside the directory are
// visible. Names are bare file names; anything with a path separator,
// a leading dot, or that resolves outside the directory is refused.
// Opening goes through os.Root, so a symlink pointing out of the
// directory cannot be followed.
package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultListLimit is how many files List returns when asked for zero.
const DefaultListLimit = 5

var (
	// ErrNotFound reports a name that is not a visible regular file.
	ErrNotFound = errors.New("workdir: file not found")

	// ErrOutsideRoot reports a name that is not a plain file name in
	// the directory.
	ErrOutsideRoot = errors.New("workdir: path outside working directory")
)

// File describes one listed file.
type File struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Dir is a working directory.
type Dir struct {
	path string
}

// Open returns a Dir for path, which must be an existing directory.
func Open(path string) (*Dir, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("workdir: %w", err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("workdir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workdir: %s is not a directory", absolute)
	}
	return &Dir{path: absolute}, nil
}

// Path returns the absolute directory path.
func (dir *Dir) Path() string { return dir.path }

// List returns up to limit visible files, most recently modified first
// (ties by name). A limit below 1 selects DefaultListLimit.
func (dir *Dir) List(limit int) ([]File, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	entries, err := os.ReadDir(dir.path)
	if err != nil {
		return nil, fmt.Errorf("workdir: listing %s: %w", dir.path, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, File{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// OpenFile opens a visible regular file by bare name.
func (dir *Dir) OpenFile(name string) (*os.File, File, error) {
	if err := checkName(name); err != nil {
		return nil, File{}, err
	}
	root, err := os.OpenRoot(dir.path)
	if err != nil {
		return nil, File{}, fmt.Errorf("workdir: %w", err)
	}
	defer root.Close()

	file, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, File{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		// os.Root refuses symlinks that escape the directory.
		return nil, File{}, fmt.Errorf("%w: %s: %v", ErrOutsideRoot, name, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, File{}, fmt.Errorf("workdir: %w", err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, File{}, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name)
	}
	return file, File{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	case strings.ContainsAny(name, `/\`), filepath.IsAbs(name):
		return fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// ShortName shortens name to at most width runes for display, ending
// in an ellipsis when cut.
func ShortName(name string, width int) string {
	if utf8.RuneCountInString(name) <= width {
		return name
	}
	runes := []rune(name)
	return string(runes[:max(width-1, 0)]) + "…"
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	value := float64(size)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	index := -1
	for value >= unit && index < len(suffixes)-1 {
		value /= unit
		index++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[index])
}
