package snapshot

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var tokenPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`ntn_[A-Za-z0-9]+`), "ntn_REDACTED"},
	{regexp.MustCompile(`secret_[A-Za-z0-9]+`), "secret_REDACTED"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]+`), "sk-REDACTED"},
}

// Group 1 is everything up to and including the separator, group 3 the value.
var assignmentRE = regexp.MustCompile(`(?im)^([ \t]*[^#\n]*?(token|secret|api[_-]?key|password)[^:=\n]*[:=][ \t]*)(.+)$`)

// Sanitize masks known token shapes and the values of secret-looking
// key/value assignments.
func Sanitize(text string) string {
	out := text
	for _, p := range tokenPatterns {
		out = p.re.ReplaceAllString(out, p.repl)
	}
	return assignmentRE.ReplaceAllStringFunc(out, func(line string) string {
		m := assignmentRE.FindStringSubmatch(line)
		if m == nil {
			return line
		}
		prefix := m[1]
		value := strings.TrimSpace(m[3])
		if value != "" && (value[0] == '"' || value[0] == '\'') {
			q := value[:1]
			return prefix + q + "REDACTED" + q
		}
		return prefix + "REDACTED"
	})
}

// ChunkText splits text into pieces of at most size runes. Joining the
// pieces yields text again; an empty text yields a single empty piece.
func ChunkText(text string, size int) []string {
	if text == "" || size <= 0 {
		return []string{text}
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	chunks = append(chunks, text[start:])
	return chunks
}

// Truncate cuts text to limit runes and reports whether it did.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i], true
		}
		count++
	}
	return text, false
}
