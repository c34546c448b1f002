// Package mdblocks converts Markdown documents into Notion blocks.
package mdblocks

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/agentworkforce/notionsync/internal/notion"
	"github.com/agentworkforce/notionsync/internal/snapshot"
)

const (
	EmojiTip       = "\U0001F4A1"
	EmojiNote      = "\u2139\ufe0f"
	EmojiImportant = "\u2757"
	EmojiWarning   = "\u26a0\ufe0f"
)

// Checked in order; the first marker found picks the icon.
var calloutMarkers = []struct {
	marker string
	emoji  string
}{
	{"[!TIP]", EmojiTip},
	{"[!NOTE]", EmojiNote},
	{"[!IMPORTANT]", EmojiImportant},
	{"[!WARNING]", EmojiWarning},
}

var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInstance
}

// Convert parses Markdown and returns the equivalent blocks in document
// order. Nested lists are flattened.
func Convert(source []byte) []notion.Block {
	document := markdownParser().Parser().Parse(text.NewReader(source))
	c := &converter{source: source}
	_ = ast.Walk(document, c.walk)
	return c.blocks
}

// Marshal renders blocks as an indented JSON array without escaping
// non-ASCII or HTML characters.
func Marshal(blocks []notion.Block) ([]byte, error) {
	if blocks == nil {
		blocks = []notion.Block{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(blocks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type converter struct {
	source []byte
	blocks []notion.Block
}

func (c *converter) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	switch n := node.(type) {
	case *ast.Heading:
		c.emitText(headingType(n.Level), c.inlineText(n))
		return ast.WalkSkipChildren, nil
	case *ast.Paragraph, *ast.TextBlock:
		c.emitText(c.paragraphType(n), c.inlineText(n))
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		c.emitCode(c.rawLines(n), string(n.Language(c.source)))
		return ast.WalkSkipChildren, nil
	case *ast.CodeBlock:
		c.emitCode(c.rawLines(n), "")
		return ast.WalkSkipChildren, nil
	case *ast.Blockquote:
		c.emitCallout(c.blockText(n))
		return ast.WalkSkipChildren, nil
	case *ast.ThematicBreak:
		c.blocks = append(c.blocks, notion.Divider())
	case *extast.Table:
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, c.inlineText(cell))
			}
			c.emitText(notion.TypeParagraph, strings.Join(cells, " | "))
		}
		return ast.WalkSkipChildren, nil
	case *ast.HTMLBlock:
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func headingType(level int) string {
	switch level {
	case 1:
		return notion.TypeHeading1
	case 2:
		return notion.TypeHeading2
	}
	return notion.TypeHeading3
}

// paragraphType maps the first text of a list item to a list block.
func (c *converter) paragraphType(node ast.Node) string {
	parent := node.Parent()
	if item, ok := parent.(*ast.ListItem); ok && item.FirstChild() == node {
		if list, ok := item.Parent().(*ast.List); ok && list.IsOrdered() {
			return notion.TypeNumberedListItem
		}
		return notion.TypeBulletedListItem
	}
	return notion.TypeParagraph
}

func (c *converter) emitText(blockType, content string) {
	if content == "" {
		return
	}
	block, ok := notion.WithRichText(blockType, richText(content), "")
	if ok {
		c.blocks = append(c.blocks, block)
	}
}

func (c *converter) emitCode(content, language string) {
	c.blocks = append(c.blocks, notion.CodeChunks(snapshot.ChunkText(content, notion.MaxRichTextChars), language))
}

func (c *converter) emitCallout(content string) {
	emoji := EmojiTip
	for _, m := range calloutMarkers {
		if strings.Contains(content, m.marker) {
			emoji = m.emoji
			content = strings.TrimSpace(strings.Replace(content, m.marker, "", 1))
			break
		}
	}
	block := notion.Callout("", emoji)
	block.Callout.RichText = richText(content)
	c.blocks = append(c.blocks, block)
}

func richText(content string) []notion.RichText {
	chunks := snapshot.ChunkText(content, notion.MaxRichTextChars)
	items := make([]notion.RichText, 0, len(chunks))
	for _, chunk := range chunks {
		items = append(items, notion.Text(chunk))
	}
	return items
}

func (c *converter) rawLines(node ast.Node) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(c.source))
	}
	return b.String()
}

// blockText flattens a container's blocks into newline-separated text.
func (c *converter) blockText(node ast.Node) string {
	var parts []string
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n == node {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			if s := c.inlineText(n); s != "" {
				parts = append(parts, s)
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if s := strings.TrimRight(c.rawLines(n), "\n"); s != "" {
				parts = append(parts, s)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(parts, "\n")
}

// inlineText returns the visible text of a node's inline children. Soft
// line breaks become spaces.
func (c *converter) inlineText(node ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(c.source))
			if t.HardLineBreak() {
				b.WriteByte('\n')
			} else if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(c.source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *extast.TaskCheckBox:
			if t.IsChecked {
				b.WriteString("[x] ")
			} else {
				b.WriteString("[ ] ")
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
