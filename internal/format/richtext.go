package format

import (
	"encoding/json"
	"regexp"
	"strings"
)

// PostNode is one inline element of a rich post paragraph.
type PostNode struct {
	Tag      string   `json:"tag"` // "text", "a", "code_block"
	Text     string   `json:"text,omitempty"`
	Href     string   `json:"href,omitempty"`
	Language string   `json:"language,omitempty"`
	Style    []string `json:"style,omitempty"` // "bold", "italic", "code"
}

// Post is a rich-content structure: a list of paragraphs, each a list of
// inline nodes. A fenced code block occupies a paragraph of its own.
type Post [][]PostNode

var richTextPatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),               // code fence
	regexp.MustCompile("`[^`]+`"),           // inline code
	regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`), // markdown link
	regexp.MustCompile(`\*\*[^*]+\*\*`),     // bold
	regexp.MustCompile(`__[^_]+__`),         // bold
	regexp.MustCompile(`\*[^*]+\*`),         // italic
	regexp.MustCompile(`_[^_]+_`),           // italic
	regexp.MustCompile(`(?m)^\s*[-*+] `),    // unordered list
	regexp.MustCompile(`(?m)^\s*\d+\. `),    // ordered list
}

// NeedsRichText reports whether text carries markdown constructs that merit
// rich-content rendering instead of plain text.
func NeedsRichText(text string) bool {
	for _, re := range richTextPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var (
	unorderedItemRe = regexp.MustCompile(`^(\s*)[-*+] (.*)$`)
	orderedItemRe   = regexp.MustCompile(`^(\s*)(\d+)\. (.*)$`)
)

// BuildPost converts markdown-ish text into a Post, line by line. Fence
// lines are excluded from code blocks; list items get a bullet or ordinal
// marker node followed by inline-parsed content; a blank line after content
// opens a new empty paragraph.
func BuildPost(text string) Post {
	var post Post
	var current []PostNode
	hasContent := false

	closeParagraph := func() {
		if len(current) > 0 {
			post = append(post, current)
			current = nil
		}
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if lang, ok := fenceOpen(line); ok {
			closeParagraph()
			var body []string
			for i++; i < len(lines); i++ {
				if _, closed := fenceOpen(lines[i]); closed {
					break
				}
				body = append(body, lines[i])
			}
			post = append(post, []PostNode{{
				Tag:      "code_block",
				Language: lang,
				Text:     strings.Join(body, "\n"),
			}})
			hasContent = true
			continue
		}

		if strings.TrimSpace(line) == "" {
			if hasContent {
				closeParagraph()
				post = append(post, []PostNode{})
			}
			continue
		}

		closeParagraph()
		if m := unorderedItemRe.FindStringSubmatch(line); m != nil {
			current = append([]PostNode{{Tag: "text", Text: "• "}}, parseInline(m[2])...)
		} else if m := orderedItemRe.FindStringSubmatch(line); m != nil {
			current = append([]PostNode{{Tag: "text", Text: m[2] + ". "}}, parseInline(m[3])...)
		} else {
			current = parseInline(line)
		}
		hasContent = true
		closeParagraph()
	}
	closeParagraph()
	return post
}

func fenceOpen(line string) (lang string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "```")), true
}

var linkRe = regexp.MustCompile(`^\[([^\]]+)\]\(([^)]+)\)`)

// parseInline scans left to right, greedily matching inline code, links,
// bold, then italic. Unmatched runs become plain text nodes; an unmatched
// leading special character is emitted literally.
func parseInline(line string) []PostNode {
	var nodes []PostNode
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			nodes = append(nodes, PostNode{Tag: "text", Text: plain.String()})
			plain.Reset()
		}
	}

	i := 0
	for i < len(line) {
		rest := line[i:]

		if rest[0] == '`' {
			if end := strings.IndexByte(rest[1:], '`'); end >= 0 {
				flush()
				nodes = append(nodes, PostNode{Tag: "text", Text: rest[1 : end+1], Style: []string{"code"}})
				i += end + 2
				continue
			}
		}

		if rest[0] == '[' {
			if m := linkRe.FindStringSubmatch(rest); m != nil {
				flush()
				nodes = append(nodes, PostNode{Tag: "a", Text: m[1], Href: m[2]})
				i += len(m[0])
				continue
			}
		}

		if styled, consumed := matchEmphasis(rest, "**", "bold"); consumed > 0 {
			flush()
			nodes = append(nodes, styled)
			i += consumed
			continue
		}
		if styled, consumed := matchEmphasis(rest, "__", "bold"); consumed > 0 {
			flush()
			nodes = append(nodes, styled)
			i += consumed
			continue
		}
		if styled, consumed := matchEmphasis(rest, "*", "italic"); consumed > 0 {
			flush()
			nodes = append(nodes, styled)
			i += consumed
			continue
		}
		if styled, consumed := matchEmphasis(rest, "_", "italic"); consumed > 0 {
			flush()
			nodes = append(nodes, styled)
			i += consumed
			continue
		}

		plain.WriteByte(rest[0])
		i++
	}
	flush()
	return nodes
}

// matchEmphasis matches a delimiter-wrapped run at the start of s. The body
// must be non-empty and free of the delimiter's first character so that
// "*..*" never swallows a "**" pair.
func matchEmphasis(s, delim, style string) (PostNode, int) {
	if !strings.HasPrefix(s, delim) {
		return PostNode{}, 0
	}
	inner := s[len(delim):]
	end := strings.Index(inner, delim)
	if end <= 0 {
		return PostNode{}, 0
	}
	body := inner[:end]
	if strings.ContainsRune(body, rune(delim[0])) {
		return PostNode{}, 0
	}
	return PostNode{Tag: "text", Text: body, Style: []string{style}}, len(delim)*2 + len(body)
}

// PostJSON renders a post into the platform's rich-content envelope.
func PostJSON(post Post) (string, error) {
	content := map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"content": post,
		},
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PlainTextJSON renders plain text into the platform's text envelope.
func PlainTextJSON(text string) (string, error) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
