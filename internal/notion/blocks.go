package notion

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MaxRichTextChars caps a single rich text item. The API limit is 2000.
const MaxRichTextChars = 1800

const (
	TypeParagraph        = "paragraph"
	TypeHeading1         = "heading_1"
	TypeHeading2         = "heading_2"
	TypeHeading3         = "heading_3"
	TypeBulletedListItem = "bulleted_list_item"
	TypeNumberedListItem = "numbered_list_item"
	TypeQuote            = "quote"
	TypeCallout          = "callout"
	TypeCode             = "code"
	TypeDivider          = "divider"
	TypeChildPage        = "child_page"

	DefaultCodeLanguage = "plain text"
)

type TextContent struct {
	Content string `json:"content"`
}

type RichText struct {
	Type      string       `json:"type"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

// Plain returns the visible text of the item.
func (r RichText) Plain() string {
	if r.PlainText != "" {
		return r.PlainText
	}
	if r.Text != nil {
		return r.Text.Content
	}
	return ""
}

// PlainText concatenates the visible text of all items.
func PlainText(items []RichText) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString(item.Plain())
	}
	return b.String()
}

type TextBlock struct {
	RichText []RichText `json:"rich_text"`
	Color    string     `json:"color,omitempty"`
}

type CodeBlock struct {
	RichText []RichText `json:"rich_text"`
	Language string     `json:"language"`
}

type Icon struct {
	Type  string `json:"type,omitempty"`
	Emoji string `json:"emoji"`
}

type CalloutBlock struct {
	RichText []RichText `json:"rich_text"`
	Icon     *Icon      `json:"icon,omitempty"`
	Color    string     `json:"color,omitempty"`
}

type ChildPage struct {
	Title string `json:"title"`
}

type Block struct {
	Object      string `json:"object,omitempty"`
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children,omitempty"`

	Paragraph        *TextBlock    `json:"paragraph,omitempty"`
	Heading1         *TextBlock    `json:"heading_1,omitempty"`
	Heading2         *TextBlock    `json:"heading_2,omitempty"`
	Heading3         *TextBlock    `json:"heading_3,omitempty"`
	BulletedListItem *TextBlock    `json:"bulleted_list_item,omitempty"`
	NumberedListItem *TextBlock    `json:"numbered_list_item,omitempty"`
	Quote            *TextBlock    `json:"quote,omitempty"`
	Callout          *CalloutBlock `json:"callout,omitempty"`
	Code             *CodeBlock    `json:"code,omitempty"`
	Divider          *struct{}     `json:"divider,omitempty"`
	ChildPage        *ChildPage    `json:"child_page,omitempty"`

	// Other holds the rich text of block types not modeled above.
	Other *TextBlock `json:"-"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type plain Block
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*b = Block(decoded)
	if b.Type == "" || b.textBlock() != nil || b.Code != nil || b.Divider != nil || b.ChildPage != nil || b.Callout != nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	payload, ok := raw[b.Type]
	if !ok {
		return nil
	}
	var other TextBlock
	if json.Unmarshal(payload, &other) == nil {
		b.Other = &other
	}
	return nil
}

func (b Block) textBlock() *TextBlock {
	switch b.Type {
	case TypeParagraph:
		return b.Paragraph
	case TypeHeading1:
		return b.Heading1
	case TypeHeading2:
		return b.Heading2
	case TypeHeading3:
		return b.Heading3
	case TypeBulletedListItem:
		return b.BulletedListItem
	case TypeNumberedListItem:
		return b.NumberedListItem
	case TypeQuote:
		return b.Quote
	}
	return nil
}

// RichText returns the block's rich text regardless of its type.
func (b Block) RichText() []RichText {
	if tb := b.textBlock(); tb != nil {
		return tb.RichText
	}
	switch {
	case b.Code != nil:
		return b.Code.RichText
	case b.Callout != nil:
		return b.Callout.RichText
	case b.Other != nil:
		return b.Other.RichText
	}
	return nil
}

// PlainText returns the block's visible text.
func (b Block) PlainText() string {
	return PlainText(b.RichText())
}

func (b Block) IsHeading() bool {
	return b.Type == TypeHeading1 || b.Type == TypeHeading2 || b.Type == TypeHeading3
}

// ChildPageTitle returns the trimmed title of a child_page block.
func (b Block) ChildPageTitle() (string, bool) {
	if b.Type != TypeChildPage {
		return "", false
	}
	if b.ChildPage == nil {
		return "", true
	}
	return strings.TrimSpace(b.ChildPage.Title), true
}

// Text builds a text rich text item capped at MaxRichTextChars runes.
func Text(content string) RichText {
	return RichText{Type: "text", Text: &TextContent{Content: truncateRunes(content, MaxRichTextChars)}}
}

func textBlock(content string) *TextBlock {
	return &TextBlock{RichText: []RichText{Text(content)}}
}

func Paragraph(content string) Block {
	return Block{Object: "block", Type: TypeParagraph, Paragraph: textBlock(content)}
}

func Heading(level int, content string) Block {
	switch {
	case level <= 1:
		return Block{Object: "block", Type: TypeHeading1, Heading1: textBlock(content)}
	case level == 2:
		return Block{Object: "block", Type: TypeHeading2, Heading2: textBlock(content)}
	default:
		return Block{Object: "block", Type: TypeHeading3, Heading3: textBlock(content)}
	}
}

func Bullet(content string) Block {
	return Block{Object: "block", Type: TypeBulletedListItem, BulletedListItem: textBlock(content)}
}

func Numbered(content string) Block {
	return Block{Object: "block", Type: TypeNumberedListItem, NumberedListItem: textBlock(content)}
}

func Code(content, language string) Block {
	if strings.TrimSpace(language) == "" {
		language = DefaultCodeLanguage
	}
	return Block{Object: "block", Type: TypeCode, Code: &CodeBlock{
		RichText: []RichText{Text(content)},
		Language: language,
	}}
}

// CodeChunks builds a code block whose rich text holds the given pieces.
func CodeChunks(chunks []string, language string) Block {
	block := Code("", language)
	block.Code.RichText = block.Code.RichText[:0]
	for _, chunk := range chunks {
		block.Code.RichText = append(block.Code.RichText, Text(chunk))
	}
	return block
}

func Callout(content, emoji string) Block {
	return Block{Object: "block", Type: TypeCallout, Callout: &CalloutBlock{
		RichText: []RichText{Text(content)},
		Icon:     &Icon{Type: "emoji", Emoji: emoji},
	}}
}

func Divider() Block {
	return Block{Object: "block", Type: TypeDivider, Divider: &struct{}{}}
}

// WithRichText returns a block of the given text type carrying items as-is.
func WithRichText(blockType string, items []RichText, color string) (Block, bool) {
	tb := &TextBlock{RichText: items, Color: color}
	block := Block{Object: "block", Type: blockType}
	switch blockType {
	case TypeParagraph:
		block.Paragraph = tb
	case TypeHeading1:
		block.Heading1 = tb
	case TypeHeading2:
		block.Heading2 = tb
	case TypeHeading3:
		block.Heading3 = tb
	case TypeBulletedListItem:
		block.BulletedListItem = tb
	case TypeNumberedListItem:
		block.NumberedListItem = tb
	case TypeQuote:
		block.Quote = tb
	default:
		return Block{}, false
	}
	return block, true
}

// TextColor returns the color of a text-type block.
func (b Block) TextColor() string {
	if tb := b.textBlock(); tb != nil {
		return tb.Color
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

type Page struct {
	Object      string                     `json:"object,omitempty"`
	ID          string                     `json:"id"`
	URL         string                     `json:"url,omitempty"`
	CreatedTime string                     `json:"created_time,omitempty"`
	Archived    bool                       `json:"archived,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties,omitempty"`
	Title       []RichText                 `json:"title,omitempty"`
}

// TitleText returns the page title from its title property, falling back to
// the top-level title used by databases.
func (p Page) TitleText() string {
	if raw, ok := p.Properties["title"]; ok {
		var prop struct {
			Title []RichText `json:"title"`
		}
		if json.Unmarshal(raw, &prop) == nil {
			if text := strings.TrimSpace(PlainText(prop.Title)); text != "" {
				return text
			}
		}
	}
	return strings.TrimSpace(PlainText(p.Title))
}
