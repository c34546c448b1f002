// Package repair reverses the mojibake produced when UTF-8 text is decoded
// as CP949 and saved again as UTF-8.
package repair

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
)

const bom = "\ufeff"

var ErrNotRepairable = errors.New("text is not CP949 mojibake")

// Text re-encodes s as CP949 and reads the bytes back as UTF-8. A leading
// byte order mark is dropped.
func Text(s string) (string, error) {
	s = strings.TrimPrefix(s, bom)
	raw, err := korean.EUCKR.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotRepairable, err)
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: result is not valid UTF-8", ErrNotRepairable)
	}
	return raw, nil
}

// File repairs the content of path without modifying it.
func File(path string) (original, repaired string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	original = string(data)
	repaired, err = Text(original)
	if err != nil {
		return original, "", err
	}
	return original, repaired, nil
}

// Preview returns at most n runes of s.
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
