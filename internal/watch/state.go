// Package watch polls a set of files and runs a sync once their changes
// settle.
package watch

import (
	"os"
	"sort"
	"strings"
	"time"
)

// FileState is the part of a file's metadata that counts as a change.
type FileState struct {
	ModTime time.Time
	Size    int64
}

// Snapshot records the state of every path that currently exists.
func Snapshot(paths []string) map[string]FileState {
	state := make(map[string]FileState, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		state[p] = FileState{ModTime: info.ModTime(), Size: info.Size()}
	}
	return state
}

// DetectChanges returns the paths added, removed or modified between two
// snapshots, sorted without regard to case.
func DetectChanges(before, after map[string]FileState) []string {
	seen := make(map[string]struct{}, len(before)+len(after))
	var changed []string
	check := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		prev, hadPrev := before[p]
		cur, hasCur := after[p]
		if hadPrev != hasCur || prev.Size != cur.Size || !prev.ModTime.Equal(cur.ModTime) {
			changed = append(changed, p)
		}
	}
	for p := range before {
		check(p)
	}
	for p := range after {
		check(p)
	}
	sort.Slice(changed, func(i, j int) bool {
		li, lj := strings.ToLower(changed[i]), strings.ToLower(changed[j])
		if li != lj {
			return li < lj
		}
		return changed[i] < changed[j]
	})
	return changed
}
