// Package pathguard confines every client-supplied path to the workspace
// root W (spec §4.D). It owns the workspace root string — no other
// component holds it directly.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves paths relative to a fixed workspace root and rejects
// anything that would escape it after resolution, including through
// symlinks.
type Guard struct {
	root string
}

// New creates a Guard rooted at root. root must already be an absolute,
// existing directory — the caller (config/bootstrap) is responsible for
// creating it if necessary.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	return &Guard{root: abs}, nil
}

// Root returns the absolute workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve joins p onto the workspace root, cleans the result, and verifies
// it is the root itself or a descendant. Symlinks are followed via
// filepath.EvalSymlinks and containment is re-verified post-resolution, so
// a symlink that points outside W is rejected even though the link itself
// lives under W.
func (g *Guard) Resolve(p string) (string, error) {
	joined := filepath.Join(g.root, p)
	cleaned := filepath.Clean(joined)

	if !g.contains(cleaned) {
		return "", errTraversal(p)
	}

	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			// Path does not exist yet (e.g. a write target). Its deepest
			// existing ancestor is resolved instead, so a symlinked parent
			// directory that points outside W is still rejected.
			for ancestor := filepath.Dir(cleaned); g.contains(ancestor); ancestor = filepath.Dir(ancestor) {
				resolvedAncestor, aerr := filepath.EvalSymlinks(ancestor)
				if aerr == nil {
					if !g.contains(resolvedAncestor) {
						return "", errTraversal(p)
					}
					break
				}
				if !os.IsNotExist(aerr) {
					return "", aerr
				}
			}
			return cleaned, nil
		}
		return "", err
	}

	if !g.contains(resolved) {
		return "", errTraversal(p)
	}
	return resolved, nil
}

// Rel returns p relative to the workspace root, for use in responses that
// must never leak absolute host paths.
func (g *Guard) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(g.root, absPath)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (g *Guard) contains(p string) bool {
	if p == g.root {
		return true
	}
	return strings.HasPrefix(p, g.root+string(filepath.Separator))
}

// TraversalError is returned by Resolve when p escapes the workspace root.
type TraversalError struct {
	Path string
}

func (e *TraversalError) Error() string {
	return "path traversal: " + e.Path
}

func errTraversal(p string) error {
	return &TraversalError{Path: p}
}
