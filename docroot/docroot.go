// Package docroot confines request paths to a single directory.
package docroot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotExist is returned by New when the directory is missing.
	ErrNotExist = errors.New("document root does not exist")
	// ErrNotDir is returned by New when the path is not a directory.
	ErrNotDir = errors.New("document root is not a directory")
	// ErrEscapesRoot is returned when a path would resolve outside the root.
	ErrEscapesRoot = errors.New("path escapes document root")
	// ErrInvalidPath is returned for paths no file can have (NUL bytes,
	// OS separators inside a segment).
	ErrInvalidPath = errors.New("invalid path")
)

// Root is an absolute, symlink-free directory path. It is immutable.
type Root struct {
	path string
}

// New resolves path to an absolute directory and returns it as a Root.
func New(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", abs, ErrNotExist)
		}
		return nil, fmt.Errorf("resolve %q: %w", abs, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", resolved, ErrNotDir)
	}

	return &Root{path: resolved}, nil
}

// Path returns the absolute path of the root.
func (r *Root) Path() string {
	return r.path
}

// Resolve maps a slash-separated URL path onto the filesystem.
//
// Empty and "." segments are dropped, ".." removes the previous segment.
// A ".." with nothing left to remove fails with ErrEscapesRoot; nothing is
// touched on disk.
func (r *Root) Resolve(urlPath string) (string, error) {
	if strings.IndexByte(urlPath, 0) >= 0 {
		return "", ErrInvalidPath
	}

	segments := make([]string, 0, strings.Count(urlPath, "/")+1)
	for _, seg := range strings.Split(urlPath, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return "", ErrEscapesRoot
			}
			segments = segments[:len(segments)-1]
		default:
			if filepath.Separator != '/' && strings.ContainsRune(seg, filepath.Separator) {
				return "", ErrInvalidPath
			}
			segments = append(segments, seg)
		}
	}

	p := filepath.Join(append([]string{r.path}, segments...)...)
	if !r.Contains(p) {
		return "", ErrEscapesRoot
	}
	return p, nil
}

// Confine follows symlinks in p and returns the real path, or ErrEscapesRoot
// when the target lies outside the root. Errors from the filesystem
// (missing targets included) are returned unchanged.
func (r *Root) Confine(p string) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !r.Contains(real) {
		return "", ErrEscapesRoot
	}
	return real, nil
}

// Contains reports whether the cleaned absolute path p is the root or lies
// beneath it.
func (r *Root) Contains(p string) bool {
	rel, err := filepath.Rel(r.path, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Key returns the slash-separated path of p relative to the root, with a
// leading "/". The root itself is "/". p should come from Confine so that
// every alias of a file maps to the same key.
func (r *Root) Key(p string) string {
	rel, err := filepath.Rel(r.path, p)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
