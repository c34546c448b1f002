// Package history rebuilds execution journal entries from dated Markdown
// work logs.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/notionsync/internal/journal"
)

const (
	Skill             = "Log Reconstruction"
	UnreadableMessage = "Error reading file content."
)

var logNamePattern = regexp.MustCompile(`^(\d{8})_(\d+)_+(.+)\.md$`)

// ParseLogName maps "YYYYMMDD_Seq_Name.md" to a timestamp ordered by the
// sequence number and a task name with underscores as spaces.
func ParseLogName(name string) (timestamp, task string, ok bool) {
	m := logNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	day, err := time.Parse("20060102", m[1])
	if err != nil {
		return "", "", false
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return "", "", false
	}
	timestamp = fmt.Sprintf("%s %02d:%02d:00", day.Format("2006-01-02"), seq/60, seq%60)
	return timestamp, strings.ReplaceAll(m[3], "_", " "), true
}

type Logger interface {
	Printf(format string, args ...any)
}

// Reconstruct returns one entry per Markdown file in dir, in file name
// order. Names starting with "_" are skipped.
func Reconstruct(dir string, logger Logger) ([]journal.Entry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	entries := make([]journal.Entry, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if strings.HasPrefix(name, "_") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		timestamp, task, ok := ParseLogName(name)
		if !ok {
			timestamp = info.ModTime().Format("2006-01-02") + " 00:00:00"
			task = strings.TrimSuffix(name, filepath.Ext(name))
		}
		message := UnreadableMessage
		if data, err := os.ReadFile(path); err != nil {
			logf(logger, "read %s: %v", name, err)
		} else {
			message = string(data)
		}
		entries = append(entries, journal.Entry{
			Timestamp: timestamp,
			Task:      task,
			Skill:     Skill,
			Status:    journal.StatusSuccess,
			Message:   message,
		})
	}
	return entries, nil
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
