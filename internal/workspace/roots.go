// Package workspace maps between local files and the symbolic paths stored
// in snapshot pages and bundles.
package workspace

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	HomeToken      = "$HOME"
	WorkspaceToken = "$WORKSPACE"
	CodexToken     = "$CODEX" // resolved, never displayed

	BundleWorkspaceDir   = "workspace"
	BundleGlobalCodexDir = "global_codex"
	BundleExternalDir    = "external"
)

type Roots struct {
	Workspace   string
	GlobalCodex string
	Home        string
}

// DefaultRoots fills missing roots from the environment: the working
// directory, $CODEX_HOME or ~/.codex, and the user's home directory.
func DefaultRoots(workspaceRoot, globalCodexRoot string) (Roots, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Roots{}, err
	}
	if strings.TrimSpace(workspaceRoot) == "" {
		workspaceRoot, err = os.Getwd()
		if err != nil {
			return Roots{}, err
		}
	}
	if strings.TrimSpace(globalCodexRoot) == "" {
		globalCodexRoot = strings.TrimSpace(os.Getenv("CODEX_HOME"))
	}
	if globalCodexRoot == "" {
		globalCodexRoot = filepath.Join(home, ".codex")
	}
	roots := Roots{
		Workspace:   workspaceRoot,
		GlobalCodex: globalCodexRoot,
		Home:        home,
	}
	return roots.Clean()
}

// Clean makes every root absolute.
func (r Roots) Clean() (Roots, error) {
	var err error
	if r.Workspace, err = absClean(r.Workspace); err != nil {
		return Roots{}, err
	}
	if r.GlobalCodex, err = absClean(r.GlobalCodex); err != nil {
		return Roots{}, err
	}
	if r.Home, err = absClean(r.Home); err != nil {
		return Roots{}, err
	}
	return r, nil
}

func absClean(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

// Resolve expands $HOME, $WORKSPACE, $CODEX and ~ prefixes. Anything else is
// returned trimmed but otherwise untouched.
func (r Roots) Resolve(symbolic string) string {
	s := strings.TrimSpace(symbolic)
	if s == "" {
		return s
	}
	if tail, ok := cutRootToken(s, HomeToken); ok {
		return joinTail(r.Home, tail)
	}
	if tail, ok := cutRootToken(s, WorkspaceToken); ok {
		return joinTail(r.Workspace, tail)
	}
	if tail, ok := cutRootToken(s, CodexToken); ok {
		return joinTail(r.GlobalCodex, tail)
	}
	if tail, ok := cutRootToken(s, "~"); ok {
		return joinTail(r.Home, tail)
	}
	return s
}

func cutRootToken(s, token string) (string, bool) {
	if s == token {
		return "", true
	}
	if strings.HasPrefix(s, token+"/") || strings.HasPrefix(s, token+`\`) {
		return strings.TrimLeft(s[len(token):], `/\`), true
	}
	return "", false
}

func joinTail(root, tail string) string {
	if tail == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(tail, `\`, "/")))
}

// Display renders a local path the way snapshot pages record it.
func (r Roots) Display(p string) string {
	if rel, ok := relUnder(r.Workspace, p); ok {
		if rel == "" {
			return WorkspaceToken
		}
		return WorkspaceToken + "/" + rel
	}
	if rel, ok := relUnder(r.Home, p); ok {
		if rel == "" {
			return HomeToken
		}
		return HomeToken + "/" + rel
	}
	return filepath.ToSlash(p)
}

// IsGlobal reports whether p lives under the global codex root.
func (r Roots) IsGlobal(p string) bool {
	_, ok := relUnder(r.GlobalCodex, p)
	return ok
}

// BundlePath maps an original snapshot path to its slash-separated location
// inside a bundle.
func (r Roots) BundlePath(original string) string {
	normalized := r.Resolve(original)
	if isAbsolute(normalized) {
		if rel, ok := relUnder(r.Workspace, normalized); ok {
			if rel == "" {
				rel = SafeRel(normalized)
			}
			return path.Join(BundleWorkspaceDir, rel)
		}
		if rel, ok := relUnder(r.GlobalCodex, normalized); ok {
			if rel == "" {
				rel = SafeRel(normalized)
			}
			return path.Join(BundleGlobalCodexDir, rel)
		}
		return path.Join(BundleExternalDir, SafeRel(normalized))
	}
	return path.Join(BundleWorkspaceDir, SafeRel(normalized))
}

// Destination resolves a bundle path back to a local file. Paths outside
// the applied scope return false.
func (r Roots) Destination(bundlePath string, applyGlobal bool) (string, bool) {
	clean := path.Clean(strings.ReplaceAll(bundlePath, `\`, "/"))
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) == 0 || parts[0] == "" || parts[0] == "." {
		return "", false
	}
	tail := ""
	if len(parts) == 2 {
		tail = parts[1]
	}
	if tail == "" || tail == ".." || strings.HasPrefix(tail, "../") {
		return "", false
	}
	switch strings.ToLower(parts[0]) {
	case BundleWorkspaceDir:
		return filepath.Join(r.Workspace, filepath.FromSlash(tail)), true
	case BundleGlobalCodexDir:
		if !applyGlobal {
			return "", false
		}
		return filepath.Join(r.GlobalCodex, filepath.FromSlash(tail)), true
	}
	return "", false
}

var driveLetterRE = regexp.MustCompile(`^[A-Za-z]:`)

// SafeRel turns an arbitrary path into a relative, traversal-free one.
func SafeRel(p string) string {
	s := strings.ReplaceAll(p, `\`, "/")
	s = driveLetterRE.ReplaceAllString(s, "")
	s = strings.TrimLeft(s, "/")
	s = strings.ReplaceAll(s, "..", "__")
	if s == "" {
		return "unknown"
	}
	return s
}

func isAbsolute(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return true
	}
	return driveLetterRE.MatchString(p)
}

// relUnder returns p relative to root (slash form) when p is root or below
// it. The comparison ignores case.
func relUnder(root, p string) (string, bool) {
	if strings.TrimSpace(root) == "" || strings.TrimSpace(p) == "" {
		return "", false
	}
	rootSlash := strings.TrimRight(filepath.ToSlash(filepath.Clean(root)), "/")
	pSlash := filepath.ToSlash(filepath.Clean(p))
	if strings.EqualFold(pSlash, rootSlash) {
		return "", true
	}
	prefix := rootSlash + "/"
	if len(pSlash) > len(prefix) && strings.EqualFold(pSlash[:len(prefix)], prefix) {
		return pSlash[len(prefix):], true
	}
	return "", false
}
