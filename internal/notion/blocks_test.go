package notion

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTextCapsContent(t *testing.T) {
	long := strings.Repeat("가", MaxRichTextChars+50)
	item := Text(long)
	if got := utf8.RuneCountInString(item.Text.Content); got != MaxRichTextChars {
		t.Fatalf("expected %d runes, got %d", MaxRichTextChars, got)
	}
	if !utf8.ValidString(item.Text.Content) {
		t.Fatalf("expected truncation on a rune boundary")
	}
}

func TestBlockMarshalShape(t *testing.T) {
	data, err := json.Marshal(Divider())
	if err != nil {
		t.Fatalf("marshal divider failed: %v", err)
	}
	if string(data) != `{"object":"block","type":"divider","divider":{}}` {
		t.Fatalf("unexpected divider json: %s", data)
	}
	data, err = json.Marshal(Code("x := 1", ""))
	if err != nil {
		t.Fatalf("marshal code failed: %v", err)
	}
	if !strings.Contains(string(data), `"language":"plain text"`) {
		t.Fatalf("expected default language, got %s", data)
	}
}

func TestUnmarshalUnknownBlockKeepsRichText(t *testing.T) {
	var block Block
	raw := `{"object":"block","id":"t1","type":"toggle","toggle":{"rich_text":[{"type":"text","plain_text":"folded"}]}}`
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if block.Other == nil || block.PlainText() != "folded" {
		t.Fatalf("expected unknown block rich text, got %+v", block)
	}
}

func TestPageTitleFallsBackToTopLevelTitle(t *testing.T) {
	var page Page
	raw := `{"id":"db_1","title":[{"type":"text","plain_text":" Database "}]}`
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if page.TitleText() != "Database" {
		t.Fatalf("expected Database, got %q", page.TitleText())
	}
}

func TestWithRichTextRejectsNonTextTypes(t *testing.T) {
	if _, ok := WithRichText(TypeCode, nil, ""); ok {
		t.Fatalf("expected code to be rejected")
	}
	block, ok := WithRichText(TypeHeading2, []RichText{Text("h")}, "blue")
	if !ok || block.TextColor() != "blue" || block.PlainText() != "h" {
		t.Fatalf("unexpected heading block: %+v", block)
	}
}
