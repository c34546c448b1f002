// Package bundle writes snapshot contents to a local bootstrap bundle and
// applies a bundle back onto the workspace.
package bundle

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	ManifestName = "manifest.json"
	ReadmeName   = "README.md"

	schemaURL = "https://agentworkforce.dev/notionsync/manifest.schema.json"
)

var (
	ErrBundleExists    = errors.New("bundle already exists")
	ErrInvalidManifest = errors.New("invalid manifest")
)

//go:embed manifest.schema.json
var manifestSchema []byte

type FileRecord struct {
	OriginalPath string `json:"original_path"`
	BundlePath   string `json:"bundle_path"`
	Bytes        int    `json:"bytes"`
	Truncated    bool   `json:"truncated,omitempty"`
}

type Manifest struct {
	GeneratedAtUTC  string       `json:"generated_at_utc"`
	SourcePageID    string       `json:"source_page_id"`
	SourcePageTitle string       `json:"source_page_title"`
	WorkspaceRoot   string       `json:"workspace_root"`
	GlobalCodexRoot string       `json:"global_codex_root"`
	Files           []FileRecord `json:"files"`

	// Invalid counts file records dropped by ReadManifest.
	Invalid int `json:"-"`
}

type schemas struct {
	manifest *jsonschema.Schema
	file     *jsonschema.Schema
}

var (
	schemaOnce sync.Once
	compiled   schemas
	schemaErr  error
)

func loadSchemas() (schemas, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse manifest schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add manifest schema: %w", err)
			return
		}
		if compiled.manifest, err = c.Compile(schemaURL); err != nil {
			schemaErr = fmt.Errorf("compile manifest schema: %w", err)
			return
		}
		if compiled.file, err = c.Compile(schemaURL + "#/$defs/file"); err != nil {
			schemaErr = fmt.Errorf("compile file schema: %w", err)
		}
	})
	return compiled, schemaErr
}

// ReadManifest loads and validates dir/manifest.json. File records that do
// not match the schema are dropped and counted in Manifest.Invalid.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return decodeManifest(data)
}

func decodeManifest(data []byte) (Manifest, error) {
	s, err := loadSchemas()
	if err != nil {
		return Manifest{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := s.manifest.Validate(inst); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var raw struct {
		Manifest
		Files []json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	manifest := raw.Manifest
	manifest.Files = make([]FileRecord, 0, len(raw.Files))
	for _, item := range raw.Files {
		record, ok := decodeRecord(s.file, item)
		if !ok {
			manifest.Invalid++
			continue
		}
		manifest.Files = append(manifest.Files, record)
	}
	return manifest, nil
}

func decodeRecord(schema *jsonschema.Schema, item json.RawMessage) (FileRecord, bool) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(item))
	if err != nil || schema.Validate(inst) != nil {
		return FileRecord{}, false
	}
	var record FileRecord
	if err := json.Unmarshal(item, &record); err != nil {
		return FileRecord{}, false
	}
	return record, strings.TrimSpace(record.BundlePath) != ""
}

// encodeManifest renders the manifest with two-space indent and without
// HTML escaping.
func encodeManifest(m Manifest) ([]byte, error) {
	if m.Files == nil {
		m.Files = []FileRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
