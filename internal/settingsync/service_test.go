package settingsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/notionsync/internal/notion"
)

type fakePage struct {
	id       string
	parent   string
	title    string
	created  string
	archived bool
	blocks   []notion.Block
}

type fakeAPI struct {
	pages        map[string]*fakePage
	order        []string
	searchResult []notion.Page
	nextID       int
	failArchive  map[string]bool
	failList     map[string]bool
	searchCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:       map[string]*fakePage{},
		failArchive: map[string]bool{},
		failList:    map[string]bool{},
	}
}

func (f *fakeAPI) addPage(id, parent, title, created string) *fakePage {
	page := &fakePage{id: id, parent: parent, title: title, created: created}
	f.pages[id] = page
	f.order = append(f.order, id)
	return page
}

func (f *fakeAPI) Search(_ context.Context, req notion.SearchRequest) (notion.SearchResponse, error) {
	f.searchCalls++
	if req.Filter == nil || req.Filter.Value != "page" || req.PageSize != 20 {
		return notion.SearchResponse{}, fmt.Errorf("unexpected search request %+v", req)
	}
	return notion.SearchResponse{Results: f.searchResult}, nil
}

func (f *fakeAPI) RetrievePage(_ context.Context, pageID string) (notion.Page, error) {
	page, ok := f.pages[pageID]
	if !ok {
		return notion.Page{}, &notion.HTTPError{StatusCode: 404, Message: "missing"}
	}
	return notion.Page{ID: page.id, CreatedTime: page.created}, nil
}

func (f *fakeAPI) CreatePage(_ context.Context, req notion.CreatePageRequest) (notion.Page, error) {
	f.nextID++
	id := fmt.Sprintf("new-%d", f.nextID)
	title := ""
	if prop, ok := req.Properties["title"].(map[string]any); ok {
		if items, ok := prop["title"].([]notion.RichText); ok {
			title = notion.PlainText(items)
		}
	}
	page := f.addPage(id, req.Parent.PageID, title, "2026-01-01T00:00:00.000Z")
	page.blocks = append(page.blocks, req.Children...)
	return notion.Page{ID: id, URL: "https://notion.so/" + id}, nil
}

func (f *fakeAPI) ArchivePage(_ context.Context, pageID string) (notion.Page, error) {
	if f.failArchive[pageID] {
		return notion.Page{}, &notion.HTTPError{StatusCode: 400, Message: "cannot archive"}
	}
	page, ok := f.pages[pageID]
	if !ok {
		return notion.Page{}, &notion.HTTPError{StatusCode: 404, Message: "missing"}
	}
	page.archived = true
	return notion.Page{ID: pageID, Archived: true}, nil
}

func (f *fakeAPI) ListBlockChildren(_ context.Context, blockID string) ([]notion.Block, error) {
	if f.failList[blockID] {
		return nil, errors.New("list failed")
	}
	page, ok := f.pages[blockID]
	if !ok {
		return nil, &notion.HTTPError{StatusCode: 404, Message: "missing"}
	}
	out := append([]notion.Block(nil), page.blocks...)
	for _, id := range f.order {
		child := f.pages[id]
		if child.parent == blockID && !child.archived {
			out = append(out, notion.Block{
				Object:    "block",
				ID:        child.id,
				Type:      notion.TypeChildPage,
				ChildPage: &notion.ChildPage{Title: child.title},
			})
		}
	}
	return out, nil
}

func (f *fakeAPI) AppendBlockChildren(_ context.Context, blockID string, blocks []notion.Block) error {
	page, ok := f.pages[blockID]
	if !ok {
		return &notion.HTTPError{StatusCode: 404, Message: "missing"}
	}
	page.blocks = append(page.blocks, blocks...)
	return nil
}

func (f *fakeAPI) childTitles(parent string) []string {
	var titles []string
	for _, id := range f.order {
		if p := f.pages[id]; p.parent == parent && !p.archived {
			titles = append(titles, p.title)
		}
	}
	return titles
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func fixedNow() time.Time {
	return time.Date(2026, 2, 22, 15, 3, 4, 0, time.UTC)
}

func newTestService(t *testing.T, api API, opts Options) *Service {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	svc, err := NewService(api, opts)
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return svc
}

func TestFindRootPagePrefersExactTitle(t *testing.T) {
	api := newFakeAPI()
	api.searchResult = []notion.Page{
		{ID: "other", Title: []notion.RichText{notion.Text("Notion MCP Server notes")}},
		{ID: "root", Title: []notion.RichText{notion.Text("Notion MCP Server")}},
	}
	svc := newTestService(t, api, Options{})
	id, err := svc.FindRootPage(context.Background())
	if err != nil || id != "root" {
		t.Fatalf("expected exact match root, got %q (%v)", id, err)
	}

	api.searchResult = api.searchResult[:1]
	id, err = svc.FindRootPage(context.Background())
	if err != nil || id != "other" {
		t.Fatalf("expected first result fallback, got %q (%v)", id, err)
	}

	api.searchResult = nil
	if _, err := svc.FindRootPage(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindRootPagePinned(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(t, api, Options{RootPageID: " pinned "})
	id, err := svc.FindRootPage(context.Background())
	if err != nil || id != "pinned" {
		t.Fatalf("expected pinned id, got %q (%v)", id, err)
	}
	if api.searchCalls != 0 {
		t.Fatalf("expected no search with pinned root")
	}
}

func TestEnsureChildPageReusesExisting(t *testing.T) {
	api := newFakeAPI()
	api.addPage("root", "", "Notion MCP Server", "")
	api.addPage("settings", "root", "codex_setting", "")
	svc := newTestService(t, api, Options{RootPageID: "root"})

	id, err := svc.EnsureChildPage(context.Background(), "root", "codex_setting", "desc")
	if err != nil || id != "settings" {
		t.Fatalf("expected existing page, got %q (%v)", id, err)
	}
	id, err = svc.EnsureChildPage(context.Background(), "settings", "old", "archive")
	if err != nil || !strings.HasPrefix(id, "new-") {
		t.Fatalf("expected created page, got %q (%v)", id, err)
	}
	intro := api.pages[id].blocks
	if len(intro) != 2 || intro[0].PlainText() != "archive" || intro[1].PlainText() != "created at(UTC): 2026-02-22 15:03:04Z" {
		t.Fatalf("unexpected intro blocks %+v", intro)
	}
}

func TestPushArchivesOlderSnapshots(t *testing.T) {
	api := newFakeAPI()
	api.addPage("root", "", "Notion MCP Server", "")
	api.addPage("settings", "root", "codex_setting", "")
	api.addPage("archive", "settings", "old", "")
	older := api.addPage("snap-1", "settings", "Codex Settings Snapshot 2026-02-20 10:00:00Z", "")
	older.blocks = []notion.Block{notion.Heading(3, "AGENTS"), notion.Code("body", "markdown")}
	api.addPage("snap-root", "root", "Codex Settings Snapshot 2026-01-01 00:00:00Z", "")
	api.addPage("notes", "root", "Meeting notes", "")
	// Already copied earlier; only the original needs archiving.
	api.addPage("copy-2", "archive", "Codex Settings Snapshot 2026-02-21 10:00:00Z", "")
	api.addPage("snap-2", "settings", "Codex Settings Snapshot 2026-02-21 10:00:00Z", "")

	logger := &captureLogger{}
	svc := newTestService(t, api, Options{RootPageID: "root", Logger: logger})
	result, err := svc.Push(context.Background(), []notion.Block{notion.Paragraph("hello")})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if result.SettingsPageID != "settings" || result.ArchivePageID != "archive" {
		t.Fatalf("unexpected page ids %+v", result)
	}
	if result.Title != "Codex Settings Snapshot 2026-02-22 15:03:04Z" {
		t.Fatalf("unexpected title %q", result.Title)
	}
	if result.Archived != 3 || result.Failed != 0 {
		t.Fatalf("expected 3 archived, 0 failed, got %+v", result)
	}
	if got := api.childTitles("settings"); len(got) != 2 || got[0] != "old" || got[1] != result.Title {
		t.Fatalf("unexpected settings children %v", got)
	}
	if got := api.childTitles("root"); len(got) != 2 || got[0] != "codex_setting" || got[1] != "Meeting notes" {
		t.Fatalf("unexpected root children %v", got)
	}
	archiveTitles := api.childTitles("archive")
	if len(archiveTitles) != 3 {
		t.Fatalf("expected 3 archived copies, got %v", archiveTitles)
	}
	var copied *fakePage
	for _, page := range api.pages {
		if page.parent == "archive" && page.title == "Codex Settings Snapshot 2026-02-20 10:00:00Z" {
			copied = page
		}
	}
	if copied == nil {
		t.Fatalf("expected copy of snap-1")
	}
	last := copied.blocks[len(copied.blocks)-1]
	if last.Type != notion.TypeCode || last.Code.Language != "markdown" || last.PlainText() != "body" {
		t.Fatalf("unexpected copied block %+v", last)
	}
	newPage := api.pages[result.PageID]
	if newPage.blocks[len(newPage.blocks)-1].PlainText() != "hello" {
		t.Fatalf("expected snapshot blocks on the new page")
	}
}

func TestArchiveSnapshotsCountsFailures(t *testing.T) {
	api := newFakeAPI()
	api.addPage("settings", "", "codex_setting", "")
	api.addPage("archive", "settings", "old", "")
	api.addPage("snap-1", "settings", "Codex Settings Snapshot 2026-02-20 10:00:00Z", "")
	api.addPage("snap-2", "settings", "Codex Settings Snapshot 2026-02-21 10:00:00Z", "")
	api.failArchive["snap-1"] = true

	logger := &captureLogger{}
	svc := newTestService(t, api, Options{Logger: logger})
	archived, failed, err := svc.ArchiveSnapshots(context.Background(), "settings", "archive", nil, nil)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if archived != 1 || failed != 1 {
		t.Fatalf("expected 1 archived and 1 failed, got %d/%d", archived, failed)
	}
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "snap-1") {
		t.Fatalf("expected failure log, got %v", logger.lines)
	}
}

func TestNormalizeForAppend(t *testing.T) {
	heading, _ := notion.WithRichText(notion.TypeHeading2, []notion.RichText{{Type: "text", PlainText: "Title"}}, "red")
	code := notion.Code("x", "go")
	toggle := notion.Block{Type: "toggle", Other: &notion.TextBlock{RichText: []notion.RichText{{PlainText: "folded"}}}}
	image := notion.Block{Type: "image"}
	empty := notion.Block{Type: notion.TypeParagraph}

	got, ok := NormalizeForAppend(heading)
	if !ok || got.Type != notion.TypeHeading2 || got.TextColor() != "red" || got.Heading2.RichText[0].Text.Content != "Title" {
		t.Fatalf("unexpected heading %+v", got)
	}
	got, ok = NormalizeForAppend(code)
	if !ok || got.Code.Language != "go" || got.PlainText() != "x" {
		t.Fatalf("unexpected code %+v", got)
	}
	got, ok = NormalizeForAppend(notion.Divider())
	if !ok || got.Type != notion.TypeDivider {
		t.Fatalf("unexpected divider %+v", got)
	}
	got, ok = NormalizeForAppend(toggle)
	if !ok || got.Type != notion.TypeParagraph || got.PlainText() != "folded" {
		t.Fatalf("unexpected toggle %+v", got)
	}
	got, ok = NormalizeForAppend(image)
	if !ok || got.PlainText() != "[unsupported block copied as text] image" {
		t.Fatalf("unexpected image %+v", got)
	}
	if _, ok := NormalizeForAppend(empty); ok {
		t.Fatalf("expected payload-less paragraph to be dropped")
	}
	plain := notion.Paragraph("p")
	if got, _ := NormalizeForAppend(plain); got.TextColor() != "default" {
		t.Fatalf("expected default color, got %q", got.TextColor())
	}
}

func TestLatestSnapshotOrdering(t *testing.T) {
	api := newFakeAPI()
	api.addPage("root", "", "Notion MCP Server", "")
	api.addPage("settings", "root", "codex_setting", "")
	api.addPage("a", "settings", "Codex Settings Snapshot 2026-02-21 10:00:00Z", "2026-02-21T10:00:00.000Z")
	api.addPage("b", "settings", "Codex Settings Snapshot (manual)", "2026-03-01T00:00:00.000Z")
	api.addPage("c", "settings", "Codex Settings Snapshot 2026-02-22 09:00:00Z", "2026-02-22T09:00:00.000Z")

	svc := newTestService(t, api, Options{RootPageID: "root"})
	latest, err := svc.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.PageID != "c" {
		t.Fatalf("expected titled snapshot c to win, got %+v", latest)
	}
}

func TestLatestSnapshotFallsBackToArchive(t *testing.T) {
	api := newFakeAPI()
	api.addPage("root", "", "Notion MCP Server", "")
	api.addPage("settings", "root", "codex_setting", "")
	api.addPage("archive", "settings", "old", "")
	api.addPage("x", "archive", "Codex Settings Snapshot 2026-02-01 00:00:00Z", "")
	api.addPage("y", "archive", "Codex Settings Snapshot 2026-02-02 00:00:00Z", "")

	svc := newTestService(t, api, Options{RootPageID: "root"})
	latest, err := svc.LatestSnapshot(context.Background())
	if err != nil || latest.PageID != "y" {
		t.Fatalf("expected archive snapshot y, got %+v (%v)", latest, err)
	}

	empty := newFakeAPI()
	empty.addPage("root", "", "Notion MCP Server", "")
	svc = newTestService(t, empty, Options{RootPageID: "root"})
	if _, err := svc.LatestSnapshot(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
