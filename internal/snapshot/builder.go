package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/notionsync/internal/notion"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

const (
	// MissingFileNotice follows the path bullet of a file that did not exist.
	MissingFileNotice = "File does not exist."
	// TruncatedNotice follows the code blocks of a body cut to the size limit.
	TruncatedNotice = "Body was too long and has been truncated."

	// Older snapshot pages carry these notices.
	legacyMissingFileNotice = "파일이 존재하지 않습니다."
	legacyTruncatedNotice   = "본문이 길어 일부를 잘라서 기록했습니다."

	ModifiedLayout = "2006-01-02 15:04:05Z"
)

// Builder renders local files into snapshot page blocks.
type Builder struct {
	Roots workspace.Roots
	// MaxFileChars overrides the layout limit when positive.
	MaxFileChars int
}

func NewBuilder(roots workspace.Roots) *Builder {
	return &Builder{Roots: roots}
}

// Build renders an overview followed by every layout section.
func (b *Builder) Build(layout Layout) []notion.Block {
	limit := layout.MaxFileChars
	if b.MaxFileChars > 0 {
		limit = b.MaxFileChars
	}
	if limit <= 0 {
		limit = DefaultMaxFileChars
	}
	blocks := []notion.Block{
		notion.Heading(2, "Sync overview"),
		notion.Paragraph("Settings snapshot recorded through the Notion REST API."),
		notion.Paragraph("workspace: " + b.Roots.Display(b.Roots.Workspace)),
		notion.Paragraph("global codex root: " + b.Roots.Display(b.Roots.GlobalCodex)),
	}
	for _, section := range layout.Sections {
		blocks = append(blocks, notion.Divider(), notion.Heading(2, section.Heading))
		switch section.Kind {
		case SectionInventory:
			matches := b.glob(section.Glob)
			if len(matches) == 0 {
				blocks = append(blocks, notion.Paragraph(emptyNotice(section)))
				continue
			}
			blocks = append(blocks, notion.Paragraph(fmt.Sprintf("%d files matched %s", len(matches), section.Glob)))
			for _, match := range matches {
				blocks = append(blocks, notion.Bullet(b.Roots.Display(match)))
			}
		case SectionBodies:
			matches := b.glob(section.Glob)
			if len(matches) == 0 {
				blocks = append(blocks, notion.Paragraph(emptyNotice(section)))
				continue
			}
			for _, match := range matches {
				label := section.LabelPrefix + filepath.Base(filepath.Dir(match))
				blocks = append(blocks, b.fileBlocks(label, match, true, limit)...)
			}
		default:
			for _, target := range section.Files {
				label := target.Label
				if label == "" {
					label = target.Path
				}
				blocks = append(blocks, b.fileBlocks(label, b.Roots.Resolve(target.Path), !target.SkipBody, limit)...)
			}
		}
	}
	return blocks
}

// FileBlocks renders one file: heading, path bullet, size and mtime bullets,
// then the sanitized body as code blocks.
func (b *Builder) FileBlocks(label, path string, includeBody bool) []notion.Block {
	limit := b.MaxFileChars
	if limit <= 0 {
		limit = DefaultMaxFileChars
	}
	return b.fileBlocks(label, path, includeBody, limit)
}

func (b *Builder) fileBlocks(label, path string, includeBody bool, limit int) []notion.Block {
	blocks := []notion.Block{
		notion.Heading(3, label),
		notion.Bullet("path: " + b.Roots.Display(path)),
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return append(blocks, notion.Paragraph(MissingFileNotice))
	}
	blocks = append(blocks,
		notion.Bullet(fmt.Sprintf("size: %d bytes", info.Size())),
		notion.Bullet("modified(UTC): "+info.ModTime().UTC().Format(ModifiedLayout)),
	)
	if !includeBody {
		return blocks
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return append(blocks, notion.Paragraph("File could not be read: "+err.Error()))
	}
	body, truncated := Truncate(Sanitize(strings.ToValidUTF8(string(raw), "\uFFFD")), limit)
	for _, part := range ChunkText(body, notion.MaxRichTextChars) {
		blocks = append(blocks, notion.Code(part, notion.DefaultCodeLanguage))
	}
	if truncated {
		blocks = append(blocks, notion.Paragraph(TruncatedNotice))
	}
	return blocks
}

func (b *Builder) glob(pattern string) []string {
	matches, err := filepath.Glob(b.Roots.Resolve(pattern))
	if err != nil {
		return nil
	}
	files := matches[:0]
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && !info.IsDir() {
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files
}

func emptyNotice(section Section) string {
	if section.EmptyNotice != "" {
		return section.EmptyNotice
	}
	return "No files matched " + section.Glob + "."
}

// Title returns the snapshot page title for the given time.
func Title(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}
	return prefix + " " + now.UTC().Format(ModifiedLayout)
}
