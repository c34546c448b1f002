package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/kr/text"
)

// CommandRunner runs the sync as a subprocess and relays its output.
type CommandRunner struct {
	Command []string
	Dir     string
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

func (r CommandRunner) Run(ctx context.Context) (int, error) {
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	errOut := r.ErrOut
	if errOut == nil {
		errOut = out
	}
	if r.DryRun {
		fmt.Fprintln(out, "WATCH_SYNC=SKIPPED(dry-run)")
		return 0, nil
	}
	if len(r.Command) == 0 {
		return -1, fmt.Errorf("sync command is empty")
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return -1, fmt.Errorf("run %s: %w", r.Command[0], err)
		}
		code = exitErr.ExitCode()
	}
	fmt.Fprintf(out, "WATCH_SYNC_EXIT=%d\n", code)
	if s := strings.TrimSpace(stdout.String()); s != "" {
		fmt.Fprintln(out, text.Indent(s, "  "))
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		fmt.Fprintln(errOut, text.Indent(s, "  "))
	}
	return code, nil
}
