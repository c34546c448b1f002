package snapshot

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/notionsync/internal/notion"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

func testRoots(t *testing.T) workspace.Roots {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	roots, err := workspace.Roots{
		Workspace:   filepath.Join(home, "proj"),
		GlobalCodex: filepath.Join(home, ".codex"),
		Home:        home,
	}.Clean()
	if err != nil {
		t.Fatalf("clean roots failed: %v", err)
	}
	return roots
}

func testLayout() Layout {
	layout := DefaultLayout()
	layout.Sections = []Section{
		{
			Heading: "Rules",
			Kind:    SectionFiles,
			Files: []FileTarget{
				{Label: "Agents", Path: "$WORKSPACE/AGENTS.md"},
				{Label: "Config", Path: "$CODEX/config.toml"},
				{Label: "Gone", Path: "$WORKSPACE/missing.md"},
				{Label: "Meta only", Path: "$WORKSPACE/package.json", SkipBody: true},
			},
		},
		{
			Heading:     "Inventory",
			Kind:        SectionInventory,
			Glob:        "$CODEX/skills/*/SKILL.md",
			EmptyNotice: "none",
		},
		{
			Heading:     "Skills",
			Kind:        SectionBodies,
			Glob:        "$WORKSPACE/.agent/skills/*/SKILL.md",
			LabelPrefix: "Skill: ",
		},
	}
	return layout
}

func TestBuildRendersSections(t *testing.T) {
	roots := testRoots(t)
	writeFile(t, filepath.Join(roots.Workspace, "AGENTS.md"), "# Agents\n")
	writeFile(t, filepath.Join(roots.GlobalCodex, "config.toml"), "token = \"ntn_secret1\"\n")
	writeFile(t, filepath.Join(roots.Workspace, "package.json"), "{}\n")
	writeFile(t, filepath.Join(roots.Workspace, ".agent", "skills", "review", "SKILL.md"), "review skill")

	blocks := NewBuilder(roots).Build(testLayout())

	var texts []string
	for _, block := range blocks {
		texts = append(texts, block.Type+":"+block.PlainText())
	}
	joined := strings.Join(texts, "\n")
	for _, want := range []string{
		"heading_2:Sync overview",
		"paragraph:workspace: $WORKSPACE",
		"bulleted_list_item:path: $WORKSPACE/AGENTS.md",
		"code:# Agents\n",
		"code:token = \"REDACTED\"\n",
		"bulleted_list_item:path: $WORKSPACE/missing.md\nparagraph:" + MissingFileNotice,
		"paragraph:none",
		"heading_3:Skill: review",
		"code:review skill",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in blocks:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "code:{}") {
		t.Fatalf("expected skip_body file to have no code block")
	}
	if strings.Contains(joined, "ntn_secret1") {
		t.Fatalf("token leaked into blocks")
	}
}

func TestFileBlocksTruncatesLongBodies(t *testing.T) {
	roots := testRoots(t)
	path := filepath.Join(roots.Workspace, "big.md")
	writeFile(t, path, strings.Repeat("x", 5000))

	builder := NewBuilder(roots)
	builder.MaxFileChars = 4000
	blocks := builder.FileBlocks("Big", path, true)

	var code []notion.Block
	for _, block := range blocks {
		if block.Type == notion.TypeCode {
			code = append(code, block)
		}
	}
	if len(code) != 3 {
		t.Fatalf("expected 3 code chunks, got %d", len(code))
	}
	last := blocks[len(blocks)-1]
	if last.Type != notion.TypeParagraph || last.PlainText() != TruncatedNotice {
		t.Fatalf("expected truncation notice, got %+v", last)
	}
}

func TestParseFilesRoundTrip(t *testing.T) {
	roots := testRoots(t)
	writeFile(t, filepath.Join(roots.Workspace, "b.md"), "bravo")
	writeFile(t, filepath.Join(roots.Workspace, "A.md"), strings.Repeat("가", 2500))
	writeFile(t, filepath.Join(roots.Workspace, "empty.md"), "")

	builder := NewBuilder(roots)
	var blocks []notion.Block
	blocks = append(blocks, notion.Heading(2, "Files"))
	blocks = append(blocks, builder.FileBlocks("b", filepath.Join(roots.Workspace, "b.md"), true)...)
	blocks = append(blocks, builder.FileBlocks("a", filepath.Join(roots.Workspace, "A.md"), true)...)
	blocks = append(blocks, builder.FileBlocks("empty", filepath.Join(roots.Workspace, "empty.md"), true)...)
	blocks = append(blocks, builder.FileBlocks("gone", filepath.Join(roots.Workspace, "gone.md"), true)...)
	blocks = append(blocks, builder.FileBlocks("meta", filepath.Join(roots.Workspace, "b.md"), false)...)
	// Code after a heading belongs to no file.
	blocks = append(blocks, notion.Heading(3, "Loose"), notion.Code("orphan", ""))

	files := ParseFiles(blocks)
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %+v", files)
	}
	if files[0].Path != "$WORKSPACE/A.md" || files[0].Content != strings.Repeat("가", 2500) {
		t.Fatalf("unexpected first file %q (%d bytes)", files[0].Path, len(files[0].Content))
	}
	if files[1].Path != "$WORKSPACE/b.md" || files[1].Content != "bravo" {
		t.Fatalf("unexpected second file %+v", files[1])
	}
	if files[2].Path != "$WORKSPACE/empty.md" || files[2].Content != "" {
		t.Fatalf("unexpected third file %+v", files[2])
	}
}

func TestParseFilesRecognizesNotices(t *testing.T) {
	blocks := []notion.Block{
		notion.Heading(3, "old"),
		notion.Bullet("PATH: $HOME/.codex/AGENTS.md"),
		notion.Paragraph(legacyMissingFileNotice),
		notion.Heading(3, "cut"),
		notion.Bullet("path: $WORKSPACE/long.md"),
		notion.Code("head", ""),
		notion.Paragraph(legacyTruncatedNotice),
	}
	files := ParseFiles(blocks)
	if len(files) != 1 || files[0].Path != "$WORKSPACE/long.md" || !files[0].Truncated {
		t.Fatalf("unexpected files %+v", files)
	}
}

func TestTitle(t *testing.T) {
	now := time.Date(2026, 2, 22, 15, 3, 4, 0, time.FixedZone("KST", 9*3600))
	if got := Title("", now); got != "Codex Settings Snapshot 2026-02-22 06:03:04Z" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestTargets(t *testing.T) {
	roots := testRoots(t)
	writeFile(t, filepath.Join(roots.Workspace, "AGENTS.md"), "a")
	writeFile(t, filepath.Join(roots.GlobalCodex, "config.toml"), "c")
	writeFile(t, filepath.Join(roots.GlobalCodex, "skills", "x", "SKILL.md"), "s")
	writeFile(t, filepath.Join(roots.Workspace, ".agent", "skills", "y", "SKILL.md"), "s")

	layout := testLayout()
	layout.Sections = append(layout.Sections, Section{
		Heading: "Dup",
		Kind:    SectionFiles,
		Files:   []FileTarget{{Path: "$WORKSPACE/agents.md"}, {Path: "$WORKSPACE/AGENTS.md"}},
	})

	all := Targets(layout, roots, true)
	if len(all) != 4 {
		t.Fatalf("expected 4 targets, got %v", all)
	}
	local := Targets(layout, roots, false)
	if len(local) != 2 {
		t.Fatalf("expected 2 workspace targets, got %v", local)
	}
	for _, p := range local {
		if roots.IsGlobal(p) {
			t.Fatalf("global target %s leaked with includeGlobal=false", p)
		}
	}
}
