package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/subosito/gotenv"

	"github.com/agentworkforce/notionsync/internal/journal"
	"github.com/agentworkforce/notionsync/internal/notion"
	"github.com/agentworkforce/notionsync/internal/snapshot"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

const (
	tokenEnv      = "NOTION_MCP_TOKEN"
	rootPageIDEnv = "NOTION_SETTINGS_ROOT_PAGE_ID"
	envVarPrefix  = "NOTIONSYNC"

	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

// configError marks failures that map to exit code 1.
type configError struct {
	err error
}

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func configErrorf(format string, args ...any) error {
	return configError{err: fmt.Errorf(format, args...)}
}

func main() {
	log.SetPrefix("")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := &app{stdout: stdout, stderr: stderr, logger: log.New(stderr, "", 0)}
	root := app.rootCommand()
	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	err := root.Run(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		fmt.Fprintln(stderr, ffcli.DefaultUsageFunc(root))
		return exitConfig
	}
	fmt.Fprintln(stderr, err)
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	return exitRuntime
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *log.Logger

	workspaceRoot string
	codexHome     string
	layoutPath    string
	journalDSN    string
	apiBaseURL    string
}

// newFlagSet returns a subcommand flag set carrying the shared flags.
func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&a.workspaceRoot, "workspace", "", "workspace root (default: current directory)")
	fs.StringVar(&a.codexHome, "codex-home", "", "global codex root (default: $CODEX_HOME or ~/.codex)")
	fs.StringVar(&a.layoutPath, "layout", "", "snapshot layout file (.toml or .yaml)")
	fs.StringVar(&a.journalDSN, "journal", "", "execution journal DSN (path, file://, sqlite://, postgres://)")
	fs.StringVar(&a.apiBaseURL, "api-base-url", notion.DefaultBaseURL, "Notion API base URL")
	fs.String("config", "", "config file (one flag per line)")
	return fs
}

func commandOptions() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	}
}

func (a *app) rootCommand() *ffcli.Command {
	rootFs := flag.NewFlagSet("notionsync", flag.ContinueOnError)
	rootFs.SetOutput(a.stderr)
	return &ffcli.Command{
		Name:       "notionsync",
		ShortUsage: "notionsync <subcommand> [flags] [<arguments>...]",
		ShortHelp:  "Sync local settings and docs with Notion",
		LongHelp: `Sync local settings and documentation files with a Notion workspace.
Flags may also be set through NOTIONSYNC_<FLAG> environment variables or a
--config file. The Notion token is read from NOTION_MCP_TOKEN, falling back
to .env and .env.local in the workspace root.`,
		FlagSet: rootFs,
		Subcommands: []*ffcli.Command{
			a.pushCommand(),
			a.pullCommand(),
			a.applyCommand(),
			a.blocksCommand(),
			a.historyCommand(),
			a.repairCommand(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

func (a *app) roots() (workspace.Roots, error) {
	roots, err := workspace.DefaultRoots(a.workspaceRoot, a.codexHome)
	if err != nil {
		return workspace.Roots{}, configErrorf("resolve roots: %v", err)
	}
	return roots, nil
}

func (a *app) layout() (snapshot.Layout, error) {
	if strings.TrimSpace(a.layoutPath) == "" {
		return snapshot.DefaultLayout(), nil
	}
	layout, err := snapshot.LoadLayout(a.layoutPath)
	if err != nil {
		return snapshot.Layout{}, configError{err: err}
	}
	return layout, nil
}

func (a *app) client(token string) *notion.Client {
	return notion.NewClient(notion.ClientOptions{
		BaseURL:   a.apiBaseURL,
		Token:     token,
		UserAgent: "notionsync",
	})
}

// record appends one entry to the configured journal. Journal failures are
// logged and never fail the command.
func (a *app) record(task string, runErr error, message string) {
	if strings.TrimSpace(a.journalDSN) == "" {
		return
	}
	j, err := journal.Open(a.journalDSN)
	if err != nil {
		a.logger.Printf("journal: %v", err)
		return
	}
	defer j.Close()
	status := journal.StatusSuccess
	if runErr != nil {
		status = journal.StatusFailed
		message = runErr.Error()
	}
	if err := j.Append(journal.NewEntry(time.Now(), task, "notionsync", status, message)); err != nil {
		a.logger.Printf("journal: %v", err)
	}
}

// loadToken returns the token from the environment or, failing that, from
// .env then .env.local in the workspace root.
func loadToken(workspaceRoot string) string {
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		return token
	}
	for _, name := range []string{".env", ".env.local"} {
		path := filepath.Join(workspaceRoot, name)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		values, err := gotenv.Read(path)
		if err != nil {
			continue
		}
		if token := strings.TrimSpace(values[tokenEnv]); token != "" {
			return token
		}
	}
	return ""
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
