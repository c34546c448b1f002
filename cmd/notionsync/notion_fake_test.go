package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentworkforce/notionsync/internal/notion"
)

type fakePage struct {
	id       string
	title    string
	parent   string
	created  string
	archived bool
}

// fakeNotion serves the subset of the Notion API the commands use from an
// in-memory page tree.
type fakeNotion struct {
	mu         sync.Mutex
	seq        int
	pages      map[string]*fakePage
	children   map[string][]notion.Block
	failStatus int
}

func newFakeNotion(t *testing.T) (*fakeNotion, *httptest.Server) {
	t.Helper()
	f := &fakeNotion{pages: map[string]*fakePage{}, children: map[string][]notion.Block{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeNotion) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// addPage registers a page and its child_page block under parent.
func (f *fakeNotion) addPage(parent, title, created string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addPageLocked(parent, title, created)
}

func (f *fakeNotion) addPageLocked(parent, title, created string) string {
	id := f.nextID("page")
	f.pages[id] = &fakePage{id: id, title: title, parent: parent, created: created}
	if parent != "" {
		f.children[parent] = append(f.children[parent], notion.Block{
			Object:    "block",
			ID:        id,
			Type:      notion.TypeChildPage,
			ChildPage: &notion.ChildPage{Title: title},
		})
	}
	return id
}

func (f *fakeNotion) addBlocks(parent string, blocks ...notion.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, block := range blocks {
		block.ID = f.nextID("blk")
		f.children[parent] = append(f.children[parent], block)
	}
}

// childTitles lists the live child page titles of parent.
func (f *fakeNotion) childTitles(parent string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var titles []string
	for _, block := range f.children[parent] {
		if title, ok := block.ChildPageTitle(); ok {
			titles = append(titles, title)
		}
	}
	return titles
}

func (f *fakeNotion) isArchived(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[id]
	return ok && page.archived
}

func (f *fakeNotion) pageJSON(page *fakePage) map[string]any {
	return map[string]any{
		"object":       "page",
		"id":           page.id,
		"url":          "https://www.notion.so/" + page.id,
		"created_time": page.created,
		"archived":     page.archived,
		"properties": map[string]any{
			"title": map[string]any{
				"type":  "title",
				"title": []notion.RichText{{Type: "text", PlainText: page.title}},
			},
		},
	}
}

func (f *fakeNotion) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStatus != 0 {
		writeJSON(w, f.failStatus, map[string]any{"object": "error", "code": "unauthorized", "message": "API token is invalid."})
		return
	}
	if r.Header.Get("Authorization") != "Bearer ntn_test" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "unauthorized", "message": "missing token"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/search":
		var results []map[string]any
		for _, page := range f.pages {
			if page.parent == "" && !page.archived {
				results = append(results, f.pageJSON(page))
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "has_more": false, "next_cursor": nil})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/pages":
		var req struct {
			Parent     notion.Parent `json:"parent"`
			Properties struct {
				Title struct {
					Title []notion.RichText `json:"title"`
				} `json:"title"`
			} `json:"properties"`
			Children []notion.Block `json:"children"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": "validation_error", "message": err.Error()})
			return
		}
		if _, ok := f.pages[req.Parent.PageID]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "object_not_found", "message": "parent not found"})
			return
		}
		id := f.addPageLocked(req.Parent.PageID, notion.PlainText(req.Properties.Title.Title), "2026-03-01T00:00:00.000Z")
		for _, block := range req.Children {
			block.ID = f.nextID("blk")
			f.children[id] = append(f.children[id], block)
		}
		writeJSON(w, http.StatusOK, f.pageJSON(f.pages[id]))

	case strings.HasPrefix(r.URL.Path, "/v1/pages/"):
		page, ok := f.pages[strings.TrimPrefix(r.URL.Path, "/v1/pages/")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "object_not_found", "message": "page not found"})
			return
		}
		if r.Method == http.MethodPatch {
			page.archived = true
			kept := f.children[page.parent][:0]
			for _, block := range f.children[page.parent] {
				if block.ID != page.id {
					kept = append(kept, block)
				}
			}
			f.children[page.parent] = kept
		}
		writeJSON(w, http.StatusOK, f.pageJSON(page))

	case strings.HasPrefix(r.URL.Path, "/v1/blocks/") && strings.HasSuffix(r.URL.Path, "/children"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/blocks/"), "/children")
		if r.Method == http.MethodPatch {
			var body struct {
				Children []notion.Block `json:"children"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"code": "validation_error", "message": err.Error()})
				return
			}
			for _, block := range body.Children {
				block.ID = f.nextID("blk")
				f.children[id] = append(f.children[id], block)
			}
			writeJSON(w, http.StatusOK, map[string]any{"results": []notion.Block{}})
			return
		}
		results := f.children[id]
		if results == nil {
			results = []notion.Block{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "has_more": false, "next_cursor": nil})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "invalid_request_url", "message": r.URL.Path})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
