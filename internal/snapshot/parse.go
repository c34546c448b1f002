package snapshot

import (
	"sort"
	"strings"

	"github.com/agentworkforce/notionsync/internal/notion"
)

// ExtractedFile is one file body recovered from a snapshot page.
type ExtractedFile struct {
	Path      string
	Content   string
	Truncated bool
}

// ParseFiles recovers file bodies from snapshot blocks. Headings end the
// current file, a "path:" bullet starts one and code blocks append to it.
// Files recorded as missing or without any body are left out.
func ParseFiles(blocks []notion.Block) []ExtractedFile {
	type entry struct {
		file    ExtractedFile
		hasBody bool
		missing bool
	}
	byPath := map[string]*entry{}
	var order []string
	var current *entry

	for _, block := range blocks {
		switch {
		case block.IsHeading():
			current = nil
		case block.Type == notion.TypeBulletedListItem:
			text := strings.TrimSpace(block.PlainText())
			if len(text) < len("path:") || !strings.EqualFold(text[:len("path:")], "path:") {
				continue
			}
			p := strings.TrimSpace(text[len("path:"):])
			if p == "" {
				current = nil
				continue
			}
			e, ok := byPath[p]
			if !ok {
				e = &entry{file: ExtractedFile{Path: p}}
				byPath[p] = e
				order = append(order, p)
			}
			current = e
		case block.Type == notion.TypeCode && current != nil:
			current.file.Content += block.PlainText()
			current.hasBody = true
			current.missing = false
		case block.Type == notion.TypeParagraph && current != nil:
			switch strings.TrimSpace(block.PlainText()) {
			case MissingFileNotice, legacyMissingFileNotice:
				if !current.hasBody {
					current.missing = true
				}
			case TruncatedNotice, legacyTruncatedNotice:
				current.file.Truncated = true
			}
		}
	}

	files := make([]ExtractedFile, 0, len(order))
	for _, p := range order {
		e := byPath[p]
		if e.missing || !e.hasBody {
			continue
		}
		files = append(files, e.file)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i].Path) < strings.ToLower(files[j].Path)
	})
	return files
}
