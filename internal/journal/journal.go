// Package journal stores execution records of the sync commands. Backends
// are selected by DSN scheme.
package journal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("journal closed")
)

// TimestampLayout is the local-time format used by Entry.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type Entry struct {
	Timestamp string `json:"timestamp"`
	Task      string `json:"task"`
	Skill     string `json:"skill"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Key identifies an entry for duplicate detection.
func (e Entry) Key() string {
	return e.Timestamp + "\x00" + e.Task
}

// NewEntry stamps an entry with the local time t.
func NewEntry(t time.Time, task, skill, status, message string) Entry {
	return Entry{
		Timestamp: t.Format(TimestampLayout),
		Task:      task,
		Skill:     skill,
		Status:    status,
		Message:   message,
	}
}

type Journal interface {
	Append(entries ...Entry) error
	// List returns all entries in insertion order.
	List() ([]Entry, error)
	Close() error
}

type Factory func(dsn string) (Journal, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory makes Open dispatch scheme to factory. Registered
// factories take precedence over the built-in backends.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open builds a journal from dsn. A bare path selects the JSONL file
// backend.
func Open(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil || len(parsed.Scheme) == 1 {
		// Windows drive letters parse as a one-letter scheme.
		return NewFileJournal(dsn)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileJournal(path)
	case "memory", "mem", "inmem":
		return NewMemoryJournal(), nil
	case "postgres", "postgresql":
		return NewPostgresJournal(dsn)
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteJournal(path)
	default:
		return nil, fmt.Errorf("unsupported journal scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

// AppendNew appends the entries whose Key is not already present and
// returns how many were written.
func AppendNew(j Journal, entries []Entry) (int, error) {
	existing, err := j.List()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, entry := range existing {
		seen[entry.Key()] = true
	}
	fresh := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if seen[entry.Key()] {
			continue
		}
		seen[entry.Key()] = true
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := j.Append(fresh...); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
