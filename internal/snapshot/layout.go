package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRootTitle      = "Notion MCP Server"
	DefaultSettingsTitle  = "codex_setting"
	DefaultArchiveTitle   = "old"
	DefaultSnapshotPrefix = "Codex Settings Snapshot"
	DefaultMaxFileChars   = 12000
)

type SectionKind string

const (
	// SectionFiles renders each listed file with its body.
	SectionFiles SectionKind = "files"
	// SectionInventory lists the files matched by Glob without bodies.
	SectionInventory SectionKind = "inventory"
	// SectionBodies renders every file matched by Glob with its body.
	SectionBodies SectionKind = "bodies"
)

type FileTarget struct {
	Label string `toml:"label" yaml:"label"`
	Path  string `toml:"path" yaml:"path"`
	// SkipBody records only path, size and mtime.
	SkipBody bool `toml:"skip_body" yaml:"skip_body"`
}

type Section struct {
	Heading string       `toml:"heading" yaml:"heading"`
	Kind    SectionKind  `toml:"kind" yaml:"kind"`
	Files   []FileTarget `toml:"files" yaml:"files"`
	Glob    string       `toml:"glob" yaml:"glob"`
	// LabelPrefix names glob matches in bodies sections, followed by the
	// matched file's parent directory name.
	LabelPrefix string `toml:"label_prefix" yaml:"label_prefix"`
	EmptyNotice string `toml:"empty_notice" yaml:"empty_notice"`
}

// Layout describes what a snapshot page contains and where it lives.
type Layout struct {
	RootTitle      string    `toml:"root_title" yaml:"root_title"`
	SettingsTitle  string    `toml:"settings_title" yaml:"settings_title"`
	ArchiveTitle   string    `toml:"archive_title" yaml:"archive_title"`
	SnapshotPrefix string    `toml:"snapshot_prefix" yaml:"snapshot_prefix"`
	MaxFileChars   int       `toml:"max_file_chars" yaml:"max_file_chars"`
	Sections       []Section `toml:"sections" yaml:"sections"`
}

func DefaultLayout() Layout {
	return Layout{
		RootTitle:      DefaultRootTitle,
		SettingsTitle:  DefaultSettingsTitle,
		ArchiveTitle:   DefaultArchiveTitle,
		SnapshotPrefix: DefaultSnapshotPrefix,
		MaxFileChars:   DefaultMaxFileChars,
		Sections: []Section{
			{
				Heading: "Global rules and settings",
				Kind:    SectionFiles,
				Files: []FileTarget{
					{Label: "Global AGENTS", Path: "$CODEX/AGENTS.md"},
					{Label: "Global default.rules", Path: "$CODEX/rules/default.rules"},
					{Label: "Global config.toml (sanitized)", Path: "$CODEX/config.toml"},
				},
			},
			{
				Heading:     "Global skill inventory",
				Kind:        SectionInventory,
				Glob:        "$CODEX/skills/*/SKILL.md",
				EmptyNotice: "No global skills found.",
			},
			{
				Heading: "Workspace rules and context",
				Kind:    SectionFiles,
				Files: []FileTarget{
					{Label: "Workspace AGENTS", Path: "$WORKSPACE/AGENTS.md"},
					{Label: "Project Context", Path: "$WORKSPACE/.agent/Project_Context.md"},
					{Label: "Rules & Skills Summary", Path: "$WORKSPACE/docs/Resources/Rules_Skills_Summary.md"},
					{Label: "Docs Index", Path: "$WORKSPACE/docs/README.md"},
					{Label: "Package Scripts", Path: "$WORKSPACE/package.json"},
				},
			},
			{
				Heading: "Notion sync tooling",
				Kind:    SectionFiles,
				Files: []FileTarget{
					{Label: "Notion Sync Config", Path: "$WORKSPACE/notionsync.toml"},
					{Label: "Notion Runbook", Path: "$WORKSPACE/docs/Resources/Notion_Sync_Runbook.md"},
					{Label: "Notion Human Guide", Path: "$WORKSPACE/docs/Resources/Notion_Human_Guide.md"},
				},
			},
			{
				Heading:     "Workspace skills",
				Kind:        SectionBodies,
				Glob:        "$WORKSPACE/.agent/skills/*/SKILL.md",
				LabelPrefix: "Workspace Skill: ",
				EmptyNotice: "No workspace skills found.",
			},
			{
				Heading: "Document examples",
				Kind:    SectionFiles,
				Files: []FileTarget{
					{Label: "Doc Example: PRD/README.md", Path: "$WORKSPACE/docs/Resources/PRD/README.md"},
					{Label: "Doc Example: Flow/README.md", Path: "$WORKSPACE/docs/Resources/Flow/README.md"},
					{Label: "Doc Example: Design/README.md", Path: "$WORKSPACE/docs/Resources/Design/README.md"},
					{Label: "Doc Example: Backlog.md", Path: "$WORKSPACE/docs/Resources/Backlog.md"},
					{Label: "Doc Example: Playwright_Map_Test_Protocol.md", Path: "$WORKSPACE/docs/Resources/Playwright_Map_Test_Protocol.md"},
					{Label: "Doc Example: TestData/README.md", Path: "$WORKSPACE/docs/TestData/README.md"},
					{Label: "Doc Example: Progress/README.md", Path: "$WORKSPACE/docs/Progress/README.md"},
				},
			},
		},
	}
}

// LoadLayout reads a TOML or YAML layout file. Unset page titles and limits
// fall back to the defaults; an empty section list keeps the default
// sections.
func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	var layout Layout
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &layout); err != nil {
			return Layout{}, fmt.Errorf("parse layout %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &layout); err != nil {
			return Layout{}, fmt.Errorf("parse layout %s: %w", path, err)
		}
	default:
		return Layout{}, fmt.Errorf("unsupported layout format %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return layout.withDefaults()
}

func (l Layout) withDefaults() (Layout, error) {
	defaults := DefaultLayout()
	if strings.TrimSpace(l.RootTitle) == "" {
		l.RootTitle = defaults.RootTitle
	}
	if strings.TrimSpace(l.SettingsTitle) == "" {
		l.SettingsTitle = defaults.SettingsTitle
	}
	if strings.TrimSpace(l.ArchiveTitle) == "" {
		l.ArchiveTitle = defaults.ArchiveTitle
	}
	if strings.TrimSpace(l.SnapshotPrefix) == "" {
		l.SnapshotPrefix = defaults.SnapshotPrefix
	}
	if l.MaxFileChars <= 0 {
		l.MaxFileChars = defaults.MaxFileChars
	}
	if len(l.Sections) == 0 {
		l.Sections = defaults.Sections
	}
	for i := range l.Sections {
		section := &l.Sections[i]
		if section.Kind == "" {
			if section.Glob != "" {
				section.Kind = SectionBodies
			} else {
				section.Kind = SectionFiles
			}
		}
		switch section.Kind {
		case SectionFiles:
			for _, f := range section.Files {
				if strings.TrimSpace(f.Path) == "" {
					return Layout{}, fmt.Errorf("section %q: file %q has no path", section.Heading, f.Label)
				}
			}
		case SectionInventory, SectionBodies:
			if strings.TrimSpace(section.Glob) == "" {
				return Layout{}, fmt.Errorf("section %q: %s sections need a glob", section.Heading, section.Kind)
			}
		default:
			return Layout{}, fmt.Errorf("section %q: unknown kind %q", section.Heading, section.Kind)
		}
	}
	return l, nil
}
