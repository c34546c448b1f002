// Package settingsync manages the snapshot page tree: the root page, the
// settings page holding dated snapshots and the archive page for old ones.
package settingsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/notionsync/internal/notion"
	"github.com/agentworkforce/notionsync/internal/snapshot"
)

var ErrNotFound = errors.New("not found")

const rootSearchPageSize = 20

// API is the subset of the Notion client the workflow needs.
type API interface {
	Search(ctx context.Context, req notion.SearchRequest) (notion.SearchResponse, error)
	RetrievePage(ctx context.Context, pageID string) (notion.Page, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (notion.Page, error)
	ArchivePage(ctx context.Context, pageID string) (notion.Page, error)
	ListBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
	AppendBlockChildren(ctx context.Context, blockID string, blocks []notion.Block) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// RootPageID pins the root page and skips the search.
	RootPageID     string
	RootTitle      string
	SettingsTitle  string
	ArchiveTitle   string
	SnapshotPrefix string
	Logger         Logger
	Now            func() time.Time
}

type Service struct {
	api            API
	rootPageID     string
	rootTitle      string
	settingsTitle  string
	archiveTitle   string
	snapshotPrefix string
	snapshotTitle  *regexp.Regexp
	logger         Logger
	now            func() time.Time
}

func NewService(api API, opts Options) (*Service, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	rootTitle := strings.TrimSpace(opts.RootTitle)
	if rootTitle == "" {
		rootTitle = snapshot.DefaultRootTitle
	}
	settingsTitle := strings.TrimSpace(opts.SettingsTitle)
	if settingsTitle == "" {
		settingsTitle = snapshot.DefaultSettingsTitle
	}
	archiveTitle := strings.TrimSpace(opts.ArchiveTitle)
	if archiveTitle == "" {
		archiveTitle = snapshot.DefaultArchiveTitle
	}
	prefix := strings.TrimSpace(opts.SnapshotPrefix)
	if prefix == "" {
		prefix = snapshot.DefaultSnapshotPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		api:            api,
		rootPageID:     strings.TrimSpace(opts.RootPageID),
		rootTitle:      rootTitle,
		settingsTitle:  settingsTitle,
		archiveTitle:   archiveTitle,
		snapshotPrefix: prefix,
		snapshotTitle:  regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + ` (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}Z)$`),
		logger:         opts.Logger,
		now:            now,
	}, nil
}

// FindRootPage returns the pinned root page id, or searches for the root
// title preferring an exact title match over the first result.
func (s *Service) FindRootPage(ctx context.Context) (string, error) {
	if s.rootPageID != "" {
		return s.rootPageID, nil
	}
	resp, err := s.api.Search(ctx, notion.SearchRequest{
		Query:    s.rootTitle,
		Filter:   &notion.SearchFilter{Property: "object", Value: "page"},
		PageSize: rootSearchPageSize,
	})
	if err != nil {
		return "", fmt.Errorf("search root page: %w", err)
	}
	for _, page := range resp.Results {
		if page.ID != "" && page.TitleText() == s.rootTitle {
			return page.ID, nil
		}
	}
	if len(resp.Results) > 0 && resp.Results[0].ID != "" {
		return resp.Results[0].ID, nil
	}
	return "", fmt.Errorf("root page %q: %w (check that the integration can access it)", s.rootTitle, ErrNotFound)
}

// FindChildPageByTitle returns the id of the first child page whose title
// equals title, or "" when there is none.
func (s *Service) FindChildPageByTitle(ctx context.Context, parentID, title string) (string, error) {
	children, err := s.api.ListBlockChildren(ctx, parentID)
	if err != nil {
		return "", fmt.Errorf("list children of %s: %w", parentID, err)
	}
	for _, block := range children {
		if childTitle, ok := block.ChildPageTitle(); ok && childTitle == title && block.ID != "" {
			return block.ID, nil
		}
	}
	return "", nil
}

// EnsureChildPage finds a child page by title or creates it with a short
// description.
func (s *Service) EnsureChildPage(ctx context.Context, parentID, title, description string) (string, error) {
	existing, err := s.FindChildPageByTitle(ctx, parentID, title)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}
	page, err := s.createPage(ctx, parentID, title, description, "created at(UTC): "+s.timestamp())
	if err != nil {
		return "", err
	}
	s.logf("created page %q (%s) under %s", title, page.ID, parentID)
	return page.ID, nil
}

// SnapshotTitle returns the title for a snapshot taken now.
func (s *Service) SnapshotTitle() string {
	return snapshot.Title(s.snapshotPrefix, s.now())
}

func (s *Service) createPage(ctx context.Context, parentID, title string, intro ...string) (notion.Page, error) {
	var children []notion.Block
	for _, line := range intro {
		if line != "" {
			children = append(children, notion.Paragraph(line))
		}
	}
	page, err := s.api.CreatePage(ctx, notion.NewCreatePageRequest(parentID, title, children))
	if err != nil {
		return notion.Page{}, fmt.Errorf("create page %q: %w", title, err)
	}
	return page, nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(snapshot.ModifiedLayout)
}

func (s *Service) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// PushResult describes a finished snapshot upload.
type PushResult struct {
	PageID         string
	PageURL        string
	Title          string
	SettingsPageID string
	ArchivePageID  string
	Archived       int
	Failed         int
}

// Push uploads blocks as a new dated snapshot page and moves every older
// snapshot into the archive page.
func (s *Service) Push(ctx context.Context, blocks []notion.Block) (PushResult, error) {
	rootID, err := s.FindRootPage(ctx)
	if err != nil {
		return PushResult{}, err
	}
	settingsID, err := s.EnsureChildPage(ctx, rootID, s.settingsTitle, "Codex settings snapshot page")
	if err != nil {
		return PushResult{}, err
	}
	archiveID, err := s.EnsureChildPage(ctx, settingsID, s.archiveTitle, "Archive of older Codex settings snapshots")
	if err != nil {
		return PushResult{}, err
	}

	title := s.SnapshotTitle()
	page, err := s.createPage(ctx, settingsID, title,
		"Automatically synced settings snapshot.",
		"created at(UTC): "+s.timestamp(),
	)
	if err != nil {
		return PushResult{}, err
	}
	if err := s.api.AppendBlockChildren(ctx, page.ID, blocks); err != nil {
		return PushResult{}, fmt.Errorf("append snapshot blocks: %w", err)
	}
	s.logf("uploaded %d blocks to %q (%s)", len(blocks), title, page.ID)

	keep := map[string]bool{page.ID: true}
	movedSettings, failedSettings, err := s.ArchiveSnapshots(ctx, settingsID, archiveID, keep, nil)
	if err != nil {
		return PushResult{}, err
	}
	movedRoot, failedRoot, err := s.ArchiveSnapshots(ctx, rootID, archiveID, keep, map[string]bool{
		settingsID: true,
		archiveID:  true,
	})
	if err != nil {
		return PushResult{}, err
	}

	return PushResult{
		PageID:         page.ID,
		PageURL:        page.URL,
		Title:          title,
		SettingsPageID: settingsID,
		ArchivePageID:  archiveID,
		Archived:       movedSettings + movedRoot,
		Failed:         failedSettings + failedRoot,
	}, nil
}

// ArchiveSnapshots copies every snapshot child page of sourceID into the
// archive page and then archives the original. Pages in keep or skip are
// left alone. A failing page is logged and counted; only listing the source
// children aborts the run.
func (s *Service) ArchiveSnapshots(ctx context.Context, sourceID, archiveID string, keep, skip map[string]bool) (archived, failed int, err error) {
	children, err := s.api.ListBlockChildren(ctx, sourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("list children of %s: %w", sourceID, err)
	}
	for _, block := range children {
		title, ok := block.ChildPageTitle()
		if !ok || block.ID == "" {
			continue
		}
		if keep[block.ID] || skip[block.ID] || block.ID == archiveID {
			continue
		}
		if !strings.HasPrefix(title, s.snapshotPrefix) {
			continue
		}
		if err := s.CopyToArchive(ctx, block.ID, title, archiveID); err != nil {
			s.logf("archive copy failed (page_id=%s): %v", block.ID, err)
			failed++
			continue
		}
		if _, err := s.api.ArchivePage(ctx, block.ID); err != nil {
			s.logf("archive page failed (page_id=%s): %v", block.ID, err)
			failed++
			continue
		}
		archived++
	}
	return archived, failed, nil
}

// CopyToArchive recreates a snapshot page under the archive page unless a
// page with the same title is already there.
func (s *Service) CopyToArchive(ctx context.Context, sourceID, title, archiveID string) error {
	existing, err := s.FindChildPageByTitle(ctx, archiveID, title)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	copyPage, err := s.createPage(ctx, archiveID, title,
		"archive source page id: "+sourceID,
		"archived at(UTC): "+s.timestamp(),
	)
	if err != nil {
		return err
	}
	blocks, err := s.api.ListBlockChildren(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("list snapshot blocks: %w", err)
	}
	appendable := make([]notion.Block, 0, len(blocks))
	for _, block := range blocks {
		if converted, ok := NormalizeForAppend(block); ok {
			appendable = append(appendable, converted)
		}
	}
	if len(appendable) == 0 {
		return nil
	}
	if err := s.api.AppendBlockChildren(ctx, copyPage.ID, appendable); err != nil {
		return fmt.Errorf("append archived blocks: %w", err)
	}
	return nil
}

// NormalizeForAppend turns a listed block into one that can be written
// back. Text blocks keep their rich text and color, code keeps its
// language, dividers stay; anything else becomes a paragraph of its text.
func NormalizeForAppend(block notion.Block) (notion.Block, bool) {
	if block.Type == "" {
		return notion.Block{}, false
	}
	rich := copyRichText(block.RichText())
	switch block.Type {
	case notion.TypeDivider:
		return notion.Divider(), true
	case notion.TypeCode:
		language := notion.DefaultCodeLanguage
		if block.Code != nil && block.Code.Language != "" {
			language = block.Code.Language
		}
		out := notion.Code("", language)
		out.Code.RichText = rich
		return out, true
	}
	color := block.TextColor()
	if color == "" {
		color = "default"
	}
	if out, ok := notion.WithRichText(block.Type, rich, color); ok {
		if rich == nil {
			// A text block the listing did not carry a payload for.
			return notion.Block{}, false
		}
		return out, true
	}
	if len(rich) == 0 {
		return notion.Paragraph("[unsupported block copied as text] " + block.Type), true
	}
	return notion.Paragraph(notion.PlainText(block.RichText())), true
}

// copyRichText rebuilds items as plain text so read-only response fields
// are not sent back. Long items are split at the rich text cap.
func copyRichText(items []notion.RichText) []notion.RichText {
	if items == nil {
		return nil
	}
	out := make([]notion.RichText, 0, len(items))
	for _, item := range items {
		for _, piece := range snapshot.ChunkText(item.Plain(), notion.MaxRichTextChars) {
			out = append(out, notion.Text(piece))
		}
	}
	return out
}

// Candidate is a snapshot page found under some parent.
type Candidate struct {
	PageID      string
	Title       string
	CreatedTime string
}

// LatestSnapshot returns the newest snapshot page. The settings page is
// searched first, then the root page, then the archive page.
func (s *Service) LatestSnapshot(ctx context.Context) (Candidate, error) {
	rootID, err := s.FindRootPage(ctx)
	if err != nil {
		return Candidate{}, err
	}
	settingsID, err := s.FindChildPageByTitle(ctx, rootID, s.settingsTitle)
	if err != nil {
		return Candidate{}, err
	}
	if settingsID != "" {
		candidates, err := s.snapshotCandidates(ctx, settingsID)
		if err != nil {
			return Candidate{}, err
		}
		if len(candidates) > 0 {
			return s.newest(candidates), nil
		}
	}
	candidates, err := s.snapshotCandidates(ctx, rootID)
	if err != nil {
		return Candidate{}, err
	}
	if len(candidates) == 0 && settingsID != "" {
		archiveID, err := s.FindChildPageByTitle(ctx, settingsID, s.archiveTitle)
		if err != nil {
			return Candidate{}, err
		}
		if archiveID != "" {
			if candidates, err = s.snapshotCandidates(ctx, archiveID); err != nil {
				return Candidate{}, err
			}
		}
	}
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("snapshot page: %w", ErrNotFound)
	}
	return s.newest(candidates), nil
}

func (s *Service) snapshotCandidates(ctx context.Context, parentID string) ([]Candidate, error) {
	children, err := s.api.ListBlockChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	var candidates []Candidate
	for _, block := range children {
		title, ok := block.ChildPageTitle()
		if !ok || block.ID == "" || !strings.HasPrefix(title, s.snapshotPrefix) {
			continue
		}
		page, err := s.api.RetrievePage(ctx, block.ID)
		if err != nil {
			return nil, fmt.Errorf("retrieve page %s: %w", block.ID, err)
		}
		candidates = append(candidates, Candidate{PageID: block.ID, Title: title, CreatedTime: page.CreatedTime})
	}
	return candidates, nil
}

// newest orders titled snapshots above untitled ones, then by the title
// timestamp or creation time. The last maximum wins.
func (s *Service) newest(candidates []Candidate) Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.lessSnapshot(sorted[i], sorted[j])
	})
	return sorted[len(sorted)-1]
}

func (s *Service) lessSnapshot(a, b Candidate) bool {
	rankA, keyA := s.sortKey(a)
	rankB, keyB := s.sortKey(b)
	if rankA != rankB {
		return rankA < rankB
	}
	return keyA < keyB
}

func (s *Service) sortKey(c Candidate) (int, string) {
	if m := s.snapshotTitle.FindStringSubmatch(strings.TrimSpace(c.Title)); m != nil {
		return 1, m[1]
	}
	return 0, c.CreatedTime
}

// SnapshotBlocks returns every top-level block of a snapshot page.
func (s *Service) SnapshotBlocks(ctx context.Context, pageID string) ([]notion.Block, error) {
	blocks, err := s.api.ListBlockChildren(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", pageID, err)
	}
	return blocks, nil
}
