package format

import (
	"strings"
	"testing"
)

// TestNeedsRichText covers plain text and each markdown construct that
// triggers rich rendering.
func TestNeedsRichText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain text", "plain text", false},
		{"plain multiline", "hello\nworld", false},
		{"bold", "**bold**", true},
		{"bold underscores", "some __bold__ text", true},
		{"italic", "an *italic* word", true},
		{"inline code", "`code`", true},
		{"code fence", "```go\nfmt.Println()\n```", true},
		{"link", "see [docs](https://example.com)", true},
		{"unordered list", "- item", true},
		{"star list", "* item one", true},
		{"ordered list", "1. first", true},
		{"asterisk not emphasis", "2 * 3 = 6", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRichText(tt.text); got != tt.want {
				t.Errorf("NeedsRichText(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

// TestBuildPost_CodeBlock verifies a fenced block becomes one code segment
// with its language, fence lines excluded.
func TestBuildPost_CodeBlock(t *testing.T) {
	post := BuildPost("```go\nfmt.Println(\"hi\")\nreturn\n```")

	if len(post) != 1 || len(post[0]) != 1 {
		t.Fatalf("got %d paragraphs, want 1 with a single node: %+v", len(post), post)
	}
	node := post[0][0]
	if node.Tag != "code_block" {
		t.Errorf("Tag = %q, want code_block", node.Tag)
	}
	if node.Language != "go" {
		t.Errorf("Language = %q, want go", node.Language)
	}
	if want := "fmt.Println(\"hi\")\nreturn"; node.Text != want {
		t.Errorf("Text = %q, want %q", node.Text, want)
	}
	if strings.Contains(node.Text, "```") {
		t.Error("fence lines leaked into code body")
	}
}

// TestBuildPost_ListItems verifies bullet and ordinal markers prefix
// inline-parsed content.
func TestBuildPost_ListItems(t *testing.T) {
	post := BuildPost("- first **item**\n2. second")

	if len(post) != 2 {
		t.Fatalf("got %d paragraphs, want 2: %+v", len(post), post)
	}
	if post[0][0].Text != "• " {
		t.Errorf("unordered marker = %q, want bullet", post[0][0].Text)
	}
	var sawBold bool
	for _, n := range post[0] {
		if len(n.Style) > 0 && n.Style[0] == "bold" && n.Text == "item" {
			sawBold = true
		}
	}
	if !sawBold {
		t.Errorf("list item content not inline-parsed: %+v", post[0])
	}
	if post[1][0].Text != "2. " {
		t.Errorf("ordered marker = %q, want %q", post[1][0].Text, "2. ")
	}
}

// TestBuildPost_BlankLineParagraph verifies a blank line after content
// opens a new empty paragraph.
func TestBuildPost_BlankLineParagraph(t *testing.T) {
	post := BuildPost("first\n\nsecond")

	if len(post) != 3 {
		t.Fatalf("got %d paragraphs, want 3 (content, empty, content): %+v", len(post), post)
	}
	if len(post[1]) != 0 {
		t.Errorf("middle paragraph = %+v, want empty", post[1])
	}
}

// TestBuildPost_LeadingBlankIgnored verifies blank lines before any content
// do not open paragraphs.
func TestBuildPost_LeadingBlankIgnored(t *testing.T) {
	post := BuildPost("\n\nhello")
	if len(post) != 1 {
		t.Errorf("got %d paragraphs, want 1: %+v", len(post), post)
	}
}

// TestParseInline covers the inline matcher's priority order and literal
// fallbacks.
func TestParseInline(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []PostNode
	}{
		{
			name: "plain run",
			line: "just words",
			want: []PostNode{{Tag: "text", Text: "just words"}},
		},
		{
			name: "inline code",
			line: "run `go test` now",
			want: []PostNode{
				{Tag: "text", Text: "run "},
				{Tag: "text", Text: "go test", Style: []string{"code"}},
				{Tag: "text", Text: " now"},
			},
		},
		{
			name: "link",
			line: "[docs](https://example.com)",
			want: []PostNode{{Tag: "a", Text: "docs", Href: "https://example.com"}},
		},
		{
			name: "bold stars",
			line: "**strong**",
			want: []PostNode{{Tag: "text", Text: "strong", Style: []string{"bold"}}},
		},
		{
			name: "bold underscores",
			line: "__strong__",
			want: []PostNode{{Tag: "text", Text: "strong", Style: []string{"bold"}}},
		},
		{
			name: "italic",
			line: "an *em* word",
			want: []PostNode{
				{Tag: "text", Text: "an "},
				{Tag: "text", Text: "em", Style: []string{"italic"}},
				{Tag: "text", Text: " word"},
			},
		},
		{
			name: "code wins over emphasis inside",
			line: "`a *b* c`",
			want: []PostNode{{Tag: "text", Text: "a *b* c", Style: []string{"code"}}},
		},
		{
			name: "unmatched star emitted literally",
			line: "2 * 3",
			want: []PostNode{{Tag: "text", Text: "2 * 3"}},
		},
		{
			name: "unmatched bracket emitted literally",
			line: "[not a link",
			want: []PostNode{{Tag: "text", Text: "[not a link"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseInline(tt.line)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d nodes %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i].Tag != tt.want[i].Tag || got[i].Text != tt.want[i].Text || got[i].Href != tt.want[i].Href {
					t.Errorf("node %d = %+v, want %+v", i, got[i], tt.want[i])
				}
				if len(got[i].Style) != len(tt.want[i].Style) {
					t.Errorf("node %d style = %v, want %v", i, got[i].Style, tt.want[i].Style)
				}
			}
		})
	}
}
