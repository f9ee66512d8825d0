package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ResolveWithin resolves rel against root and guarantees the result is a
// descendant of root (or root itself). Absolute paths and any path
// containing a ".." segment are rejected before any filesystem access.
// When forWrite is true, intermediate directories are created so the
// caller can immediately create the target file.
//
// ResolveWithin also canonicalizes through existing symlinks and rejects
// escapes introduced by a symlink chain, a broken-symlink target, or a
// hardlinked file.
func ResolveWithin(root, rel string, forWrite bool) (string, error) {
	if filepath.IsAbs(rel) {
		return "", newErr(KindAbsolutePath, "absolute paths are not allowed: %q", rel)
	}
	if containsParentSegment(rel) {
		return "", newErr(KindPathTraversal, "path traversal is not allowed: %q", rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", newErr(KindOutsideWorkspace, "cannot resolve workspace root: %v", err)
	}
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot // workspace may not exist yet on first write
	}

	joined := filepath.Clean(filepath.Join(rootReal, rel))
	if !isWithin(joined, rootReal) {
		return "", newErr(KindOutsideWorkspace, "path escapes workspace: %q", rel)
	}

	if forWrite {
		if err := os.MkdirAll(filepath.Dir(joined), 0o755); err != nil {
			return "", newErr(KindOutsideWorkspace, "cannot create parent directories: %v", err)
		}
	}

	real, err := canonicalize(joined)
	if err != nil {
		return "", newErr(KindOutsideWorkspace, "%v", err)
	}
	if !isWithin(real, rootReal) {
		return "", newErr(KindOutsideWorkspace, "resolved path escapes workspace: %q", rel)
	}
	if hasMutableSymlinkParent(real) {
		return "", newErr(KindOutsideWorkspace, "path contains a mutable symlink component: %q", rel)
	}
	if err := rejectHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

// containsParentSegment reports whether any path segment of rel is "..".
// Operates on the raw, uncleaned string so "a/../../etc" is caught even if
// Clean would happen to resolve back inside root.
func containsParentSegment(rel string) bool {
	norm := strings.ReplaceAll(rel, "\\", "/")
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isWithin(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// canonicalize resolves path through its symlinks. For components that do
// not exist yet (the common case for a file about to be written), it walks
// up to the deepest existing ancestor, canonicalizes that, and rejoins the
// remaining non-existent tail.
func canonicalize(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path), nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, c := range tail {
				result = filepath.Join(result, c)
			}
			return result, nil
		}
	}
}

// hasMutableSymlinkParent reports whether any existing component along path
// is a symlink whose containing directory is writable — a TOCTOU rebind
// risk between resolution and the later filesystem operation.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// rejectHardlink rejects regular files with more than one hardlink.
// Directories are exempt (they naturally report nlink > 1).
func rejectHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // doesn't exist yet — fine, will fail at the actual I/O call
	}
	if info.IsDir() {
		return nil
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Nlink > 1 {
		return newErr(KindOutsideWorkspace, "hardlinked file not allowed: %q", path)
	}
	return nil
}
