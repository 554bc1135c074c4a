package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agenthost/internal/domain"
)

// RootedDir reads files beneath one directory and refuses any path that
// resolves outside it, including through symlinks.
type RootedDir struct {
	root string // absolute, symlink-resolved
}

// NewRootedDir confines reads to dir, which must exist.
func NewRootedDir(dir string) (*RootedDir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for root %s: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", resolved)
	}
	return &RootedDir{root: resolved}, nil
}

// Root returns the resolved root directory.
func (d *RootedDir) Root() string { return d.root }

// Resolve returns the absolute path of name, relative to the root, after
// following symlinks. A name that does not exist yet is resolved through its
// parent directory.
func (d *RootedDir) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", domain.NewDomainError("RootedDir.Resolve", domain.ErrPathEscape,
			fmt.Sprintf("%q is absolute", name))
	}
	abs := filepath.Join(d.root, name)
	if !d.contains(abs) {
		return "", domain.NewDomainError("RootedDir.Resolve", domain.ErrPathEscape,
			fmt.Sprintf("%q leaves %q", name, d.root))
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			return "", fmt.Errorf("resolve %s: %w", name, err)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}
	if !d.contains(resolved) {
		return "", domain.NewDomainError("RootedDir.Resolve", domain.ErrPathEscape,
			fmt.Sprintf("%q resolves to %q, outside %q", name, resolved, d.root))
	}
	return resolved, nil
}

// ReadFile reads name from within the root.
func (d *RootedDir) ReadFile(name string) ([]byte, error) {
	path, err := d.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (d *RootedDir) contains(path string) bool {
	return path == d.root || strings.HasPrefix(path, d.root+string(os.PathSeparator))
}
