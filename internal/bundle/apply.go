package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/notionsync/internal/workspace"
)

type ApplyOptions struct {
	Roots       workspace.Roots
	ApplyGlobal bool
	DryRun      bool
	// Out receives one line per record. Nil discards them.
	Out io.Writer
}

type ApplyStats struct {
	Applied       int
	Skipped       int
	MissingSource int
}

// Apply copies bundle files back to their local destinations. Workspace
// files always apply; global codex files only with ApplyGlobal; anything
// else is skipped.
func Apply(bundleDir string, opts ApplyOptions) (ApplyStats, error) {
	manifest, err := ReadManifest(bundleDir)
	if err != nil {
		return ApplyStats{}, err
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	stats := ApplyStats{Skipped: manifest.Invalid}
	for _, record := range manifest.Files {
		src := filepath.Join(bundleDir, filepath.FromSlash(strings.ReplaceAll(record.BundlePath, `\`, "/")))
		if info, err := os.Stat(src); err != nil || info.IsDir() {
			fmt.Fprintf(out, "SKIP_MISSING_SOURCE=%s\n", src)
			stats.MissingSource++
			continue
		}
		dst, ok := opts.Roots.Destination(record.BundlePath, opts.ApplyGlobal)
		if !ok {
			fmt.Fprintf(out, "SKIP_SCOPE=%s\n", record.BundlePath)
			stats.Skipped++
			continue
		}
		if opts.DryRun {
			fmt.Fprintf(out, "DRYRUN_APPLY %s -> %s\n", src, dst)
			stats.Applied++
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", src, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return stats, err
		}
		if err := writeFileAtomic(dst, []byte(strings.ToValidUTF8(string(data), "\uFFFD")), 0o644); err != nil {
			return stats, fmt.Errorf("write %s: %w", dst, err)
		}
		fmt.Fprintf(out, "APPLIED %s\n", dst)
		stats.Applied++
	}
	return stats, nil
}
