package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentworkforce/notionsync/internal/workspace"
)

// Targets lists the existing files a layout references, de-duplicated
// without regard to case. Files under the global codex root are left out
// unless includeGlobal is set.
func Targets(layout Layout, roots workspace.Roots, includeGlobal bool) []string {
	var candidates []string
	for _, section := range layout.Sections {
		for _, target := range section.Files {
			candidates = append(candidates, roots.Resolve(target.Path))
		}
		if section.Glob != "" {
			matches, err := filepath.Glob(roots.Resolve(section.Glob))
			if err == nil {
				sort.Strings(matches)
				candidates = append(candidates, matches...)
			}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	targets := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if p == "" {
			continue
		}
		key := strings.ToLower(filepath.Clean(p))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if !includeGlobal && roots.IsGlobal(p) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}
