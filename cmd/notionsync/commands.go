package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kr/text"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/agentworkforce/notionsync/internal/bundle"
	"github.com/agentworkforce/notionsync/internal/history"
	"github.com/agentworkforce/notionsync/internal/journal"
	"github.com/agentworkforce/notionsync/internal/mdblocks"
	"github.com/agentworkforce/notionsync/internal/repair"
	"github.com/agentworkforce/notionsync/internal/settingsync"
	"github.com/agentworkforce/notionsync/internal/snapshot"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

const (
	manualPageTitle = "(manual page id)"
	bundleDirLayout = "20060102-150405"
)

func (a *app) service(token, rootPageID string, layout snapshot.Layout) (*settingsync.Service, error) {
	return settingsync.NewService(a.client(token), settingsync.Options{
		RootPageID:     rootPageID,
		RootTitle:      layout.RootTitle,
		SettingsTitle:  layout.SettingsTitle,
		ArchiveTitle:   layout.ArchiveTitle,
		SnapshotPrefix: layout.SnapshotPrefix,
		Logger:         a.logger,
	})
}

// setup resolves the roots, layout and token shared by the API commands.
func (a *app) setup() (workspace.Roots, snapshot.Layout, string, error) {
	roots, err := a.roots()
	if err != nil {
		return workspace.Roots{}, snapshot.Layout{}, "", err
	}
	layout, err := a.layout()
	if err != nil {
		return workspace.Roots{}, snapshot.Layout{}, "", err
	}
	token := loadToken(roots.Workspace)
	if token == "" {
		return workspace.Roots{}, snapshot.Layout{}, "", configErrorf("environment variable %s is empty", tokenEnv)
	}
	return roots, layout, token, nil
}

func (a *app) pushCommand() *ffcli.Command {
	fs := a.newFlagSet("push")
	rootPageID := fs.String("root-page-id", envOrDefault(rootPageIDEnv, ""), "pin the root page instead of searching by title")
	maxFileChars := fs.Int("max-file-chars", 0, "per-file body limit (default: layout value)")
	return &ffcli.Command{
		Name:       "push",
		ShortUsage: "notionsync push [flags]",
		ShortHelp:  "Upload a dated settings snapshot and archive older ones",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			roots, layout, token, err := a.setup()
			if err != nil {
				return err
			}
			svc, err := a.service(token, *rootPageID, layout)
			if err != nil {
				return err
			}
			builder := snapshot.NewBuilder(roots)
			builder.MaxFileChars = *maxFileChars
			result, err := svc.Push(ctx, builder.Build(layout))
			if err != nil {
				err = fmt.Errorf("sync failed: %w", err)
				a.record("push", err, "")
				return err
			}
			fmt.Fprintln(a.stdout, "SYNC_RESULT=SUCCESS")
			fmt.Fprintf(a.stdout, "SYNC_PAGE_ID=%s\n", result.PageID)
			fmt.Fprintf(a.stdout, "SYNC_PAGE_URL=%s\n", result.PageURL)
			fmt.Fprintf(a.stdout, "SYNC_SETTINGS_PAGE_ID=%s\n", result.SettingsPageID)
			fmt.Fprintf(a.stdout, "SYNC_ARCHIVE_PAGE_ID=%s\n", result.ArchivePageID)
			fmt.Fprintf(a.stdout, "SYNC_ARCHIVED_TO_OLD=%d\n", result.Archived)
			fmt.Fprintf(a.stdout, "SYNC_MOVE_FAILED=%d\n", result.Failed)
			a.record("push", nil, fmt.Sprintf("%s archived=%d failed=%d", result.Title, result.Archived, result.Failed))
			return nil
		},
	}
}

func (a *app) pullCommand() *ffcli.Command {
	fs := a.newFlagSet("pull")
	rootPageID := fs.String("root-page-id", envOrDefault(rootPageIDEnv, ""), "pin the root page instead of searching by title")
	pageID := fs.String("page-id", "", "snapshot page to pull (default: latest snapshot)")
	outputDir := fs.String("output-dir", "", "bundle directory (default: <workspace>/.bootstrap/notion/<timestamp>)")
	force := fs.Bool("force", false, "write into a directory that already holds a bundle")
	return &ffcli.Command{
		Name:       "pull",
		ShortUsage: "notionsync pull [flags]",
		ShortHelp:  "Download the latest snapshot into a local bundle",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			roots, layout, token, err := a.setup()
			if err != nil {
				return err
			}
			svc, err := a.service(token, *rootPageID, layout)
			if err != nil {
				return err
			}
			source := bundle.Source{PageID: strings.TrimSpace(*pageID), Title: manualPageTitle}
			if source.PageID == "" {
				latest, err := svc.LatestSnapshot(ctx)
				if err != nil {
					err = fmt.Errorf("pull failed: %w", err)
					a.record("pull", err, "")
					return err
				}
				source = bundle.Source{PageID: latest.PageID, Title: latest.Title}
			}
			blocks, err := svc.SnapshotBlocks(ctx, source.PageID)
			if err != nil {
				err = fmt.Errorf("pull failed: %w", err)
				a.record("pull", err, "")
				return err
			}
			files := snapshot.ParseFiles(blocks)

			dir := strings.TrimSpace(*outputDir)
			if dir == "" {
				dir = filepath.Join(roots.Workspace, ".bootstrap", "notion", time.Now().Format(bundleDirLayout))
			}
			manifest, err := bundle.Writer{Roots: roots, Force: *force}.Write(dir, source, files)
			if errors.Is(err, bundle.ErrBundleExists) {
				return configError{err: err}
			}
			if err != nil {
				err = fmt.Errorf("pull failed: %w", err)
				a.record("pull", err, "")
				return err
			}
			truncated := 0
			for _, record := range manifest.Files {
				if record.Truncated {
					truncated++
				}
			}
			fmt.Fprintln(a.stdout, "PULL_RESULT=SUCCESS")
			fmt.Fprintf(a.stdout, "PULL_PAGE_ID=%s\n", source.PageID)
			fmt.Fprintf(a.stdout, "PULL_PAGE_TITLE=%s\n", source.Title)
			fmt.Fprintf(a.stdout, "PULL_OUTPUT_DIR=%s\n", dir)
			fmt.Fprintf(a.stdout, "PULL_FILE_COUNT=%d\n", len(manifest.Files))
			fmt.Fprintf(a.stdout, "PULL_TRUNCATED=%d\n", truncated)
			a.record("pull", nil, fmt.Sprintf("%s files=%d dir=%s", source.Title, len(manifest.Files), dir))
			return nil
		},
	}
}

func (a *app) applyCommand() *ffcli.Command {
	fs := a.newFlagSet("apply")
	bundleDir := fs.String("bundle-dir", "", "bundle directory written by pull (required)")
	applyGlobal := fs.Bool("apply-global", false, "also restore global codex files")
	dryRun := fs.Bool("dry-run", false, "print targets without writing")
	return &ffcli.Command{
		Name:       "apply",
		ShortUsage: "notionsync apply --bundle-dir DIR [flags]",
		ShortHelp:  "Copy a pulled bundle back onto local paths",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			dir := strings.TrimSpace(*bundleDir)
			if dir == "" {
				return configErrorf("--bundle-dir is required")
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				fmt.Fprintf(a.stdout, "BUNDLE_NOT_FOUND=%s\n", dir)
				return configErrorf("bundle directory not found: %s", dir)
			}
			roots, err := a.roots()
			if err != nil {
				return err
			}
			stats, err := bundle.Apply(dir, bundle.ApplyOptions{
				Roots:       roots,
				ApplyGlobal: *applyGlobal,
				DryRun:      *dryRun,
				Out:         a.stdout,
			})
			if err != nil {
				fmt.Fprintln(a.stdout, "APPLY_RESULT=FAILED")
				fmt.Fprintf(a.stdout, "APPLY_ERROR=%v\n", err)
				a.record("apply", err, "")
				return fmt.Errorf("apply failed: %w", err)
			}
			fmt.Fprintln(a.stdout, "APPLY_RESULT=SUCCESS")
			fmt.Fprintf(a.stdout, "APPLY_APPLIED=%d\n", stats.Applied)
			fmt.Fprintf(a.stdout, "APPLY_SKIPPED=%d\n", stats.Skipped)
			fmt.Fprintf(a.stdout, "APPLY_MISSING_SOURCE=%d\n", stats.MissingSource)
			if !*dryRun {
				a.record("apply", nil, fmt.Sprintf("%s applied=%d skipped=%d", dir, stats.Applied, stats.Skipped))
			}
			return nil
		},
	}
}

func (a *app) blocksCommand() *ffcli.Command {
	fs := a.newFlagSet("blocks")
	return &ffcli.Command{
		Name:       "blocks",
		ShortUsage: "notionsync blocks <input.md> <output.json>",
		ShortHelp:  "Convert a Markdown document into Notion block JSON",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return configErrorf("usage: notionsync blocks <input.md> <output.json>")
			}
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			blocks := mdblocks.Convert(source)
			data, err := mdblocks.Marshal(blocks)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "BLOCKS_RESULT=SUCCESS")
			fmt.Fprintf(a.stdout, "BLOCKS_COUNT=%d\n", len(blocks))
			fmt.Fprintf(a.stdout, "BLOCKS_OUTPUT=%s\n", args[1])
			return nil
		},
	}
}

func (a *app) historyCommand() *ffcli.Command {
	fs := a.newFlagSet("history")
	logDir := fs.String("log-dir", "", "directory of dated Markdown logs (default: <workspace>/docs/Logs)")
	return &ffcli.Command{
		Name:       "history",
		ShortUsage: "notionsync history [flags]",
		ShortHelp:  "Rebuild journal entries from Markdown work logs",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			roots, err := a.roots()
			if err != nil {
				return err
			}
			dir := strings.TrimSpace(*logDir)
			if dir == "" {
				dir = filepath.Join(roots.Workspace, "docs", "Logs")
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return configErrorf("log directory not found: %s", dir)
			}
			dsn := strings.TrimSpace(a.journalDSN)
			if dsn == "" {
				dsn = filepath.Join(dir, "execution_history.jsonl")
			}
			entries, err := history.Reconstruct(dir, a.logger)
			if err != nil {
				return err
			}
			j, err := journal.Open(dsn)
			if err != nil {
				return configError{err: err}
			}
			defer j.Close()
			written, err := journal.AppendNew(j, entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "HISTORY_FOUND=%d\n", len(entries))
			fmt.Fprintf(a.stdout, "HISTORY_APPENDED=%d\n", written)
			fmt.Fprintf(a.stdout, "HISTORY_JOURNAL=%s\n", dsn)
			return nil
		},
	}
}

func (a *app) repairCommand() *ffcli.Command {
	fs := a.newFlagSet("repair")
	out := fs.String("out", "", "write the repaired text to this file")
	inPlace := fs.Bool("in-place", false, "overwrite the input file")
	preview := fs.Int("preview", 200, "preview length in characters")
	return &ffcli.Command{
		Name:       "repair",
		ShortUsage: "notionsync repair [flags] <file>",
		ShortHelp:  "Repair UTF-8 text that was decoded as CP949",
		FlagSet:    fs,
		Options:    commandOptions(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return configErrorf("usage: notionsync repair [flags] <file>")
			}
			if *inPlace && strings.TrimSpace(*out) != "" {
				return configErrorf("--out and --in-place are mutually exclusive")
			}
			original, repaired, err := repair.File(args[0])
			if original != "" {
				fmt.Fprintln(a.stdout, "Original preview:")
				fmt.Fprint(a.stdout, text.Indent(repair.Preview(original, *preview)+"\n", "  "))
			}
			if err != nil {
				fmt.Fprintln(a.stdout, "REPAIR_RESULT=FAILED")
				return fmt.Errorf("repair %s: %w", args[0], err)
			}
			fmt.Fprintln(a.stdout, "Repaired preview:")
			fmt.Fprint(a.stdout, text.Indent(repair.Preview(repaired, *preview)+"\n", "  "))

			target := strings.TrimSpace(*out)
			if *inPlace {
				target = args[0]
			}
			if target != "" {
				if err := os.WriteFile(target, []byte(repaired), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "REPAIR_OUTPUT=%s\n", target)
			}
			fmt.Fprintln(a.stdout, "REPAIR_RESULT=SUCCESS")
			return nil
		},
	}
}
