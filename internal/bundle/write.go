package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/notionsync/internal/snapshot"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

type Source struct {
	PageID string
	Title  string
}

type Writer struct {
	Roots workspace.Roots
	// Force allows writing into a directory that already holds a manifest.
	Force bool
	Now   func() time.Time
}

// Write stores files under their bundle paths in dir, then writes the
// manifest and a short README.
func (w Writer) Write(dir string, source Source, files []snapshot.ExtractedFile) (Manifest, error) {
	dir = filepath.Clean(dir)
	if !w.Force {
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err == nil {
			return Manifest{}, fmt.Errorf("%w: %s (use --force to overwrite)", ErrBundleExists, dir)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	sorted := append([]snapshot.ExtractedFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Path) < strings.ToLower(sorted[j].Path)
	})

	manifest := Manifest{
		GeneratedAtUTC:  now().UTC().Format(snapshot.ModifiedLayout),
		SourcePageID:    source.PageID,
		SourcePageTitle: source.Title,
		WorkspaceRoot:   w.Roots.Workspace,
		GlobalCodexRoot: w.Roots.GlobalCodex,
		Files:           make([]FileRecord, 0, len(sorted)),
	}
	for _, file := range sorted {
		rel := w.Roots.BundlePath(file.Path)
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Manifest{}, err
		}
		content := []byte(strings.ToValidUTF8(file.Content, "\uFFFD"))
		if err := writeFileAtomic(target, content, 0o644); err != nil {
			return Manifest{}, fmt.Errorf("write %s: %w", rel, err)
		}
		manifest.Files = append(manifest.Files, FileRecord{
			OriginalPath: file.Path,
			BundlePath:   rel,
			Bytes:        len(content),
			Truncated:    file.Truncated,
		})
	}

	data, err := encodeManifest(manifest)
	if err != nil {
		return Manifest{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return Manifest{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, ReadmeName), []byte(readme(source)), 0o644); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func readme(source Source) string {
	lines := []string{
		"# Notion Bootstrap Bundle",
		"",
		"- source_page_id: `" + source.PageID + "`",
		"- source_page_title: `" + source.Title + "`",
		"",
		"## Applying",
		"1. Open `manifest.json` and check which files you need.",
		"2. Diff files under `workspace/` against the repository before overwriting.",
		"3. Files under `global_codex/` belong in `~/.codex` and are only applied with `--apply-global`.",
		"4. Secrets (tokens, keys) were redacted; set them again through environment variables.",
		"",
		"## Notes",
		"- The bundle is an intermediate artifact and does not overwrite anything by itself.",
		"- Review moved or renamed paths before applying.",
	}
	return strings.Join(lines, "\n") + "\n"
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
