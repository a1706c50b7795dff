package fs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
)

// MaxSearchDepth bounds FindByBasename. The deepest canonical key
// (customers/c/quotes/q/sub/id/original/file) sits eight levels below the root.
const MaxSearchDepth = 8

// FileEntry is a regular file found by WalkFiles.
type FileEntry struct {
	RelPath string // slash-separated, relative to the walk root
	Info    iofs.FileInfo
}

// WalkFiles returns the regular files under root in lexical order.
// Ignored names, symlinks and special files are skipped. A missing root
// yields no entries.
func WalkFiles(root string, ignore *IgnoreMatcher) ([]FileEntry, error) {
	var out []FileEntry
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return iofs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil // removed during the walk
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		out = append(out, FileEntry{RelPath: filepath.ToSlash(rel), Info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByBasename searches breadth-first under root for a regular file named
// name, descending at most maxDepth directory levels. Returns ("", false, nil)
// when nothing matches. Ties at the same depth resolve lexically.
func FindByBasename(root, name string, maxDepth int, ignore *IgnoreMatcher) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}

	level := []string{root}
	for depth := 0; depth <= maxDepth && len(level) > 0; depth++ {
		var next []string
		for _, dir := range level {
			entries, err := os.ReadDir(dir)
			if err != nil {
				if errors.Is(err, iofs.ErrNotExist) || errors.Is(err, iofs.ErrPermission) {
					continue
				}
				return "", false, fmt.Errorf("reading %s: %w", dir, err)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

			for _, e := range entries {
				if ignore.Match(e.Name()) {
					continue
				}
				full := filepath.Join(dir, e.Name())
				switch {
				case e.Type().IsRegular() && e.Name() == name:
					return full, true, nil
				case e.IsDir():
					next = append(next, full)
				}
			}
		}
		level = next
	}
	return "", false, nil
}

// NearestExistingDir walks up from dir until it finds an existing directory,
// stopping at root. Returns root when nothing below it exists.
func NearestExistingDir(root, dir string) string {
	root = filepath.Clean(root)
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		rel, err := filepath.Rel(root, d)
		if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
			return root
		}
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			return d
		}
		if d == root {
			return root
		}
	}
}
