package format

import (
	"strings"
	"testing"
)

// TestChunkText_FitsInOne verifies text within the budget is returned as a
// single chunk, unchanged.
func TestChunkText_FitsInOne(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
	}{
		{"short text", "hello", 100},
		{"exactly at limit", strings.Repeat("a", 10), 10},
		{"empty", "", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.text, tt.max)
			if len(got) != 1 || got[0] != tt.text {
				t.Errorf("ChunkText(%q, %d) = %v, want single unchanged chunk", tt.text, tt.max, got)
			}
		})
	}
}

// TestChunkText_ParagraphBreak verifies a paragraph break is preferred: two
// paragraphs over the budget split into two chunks, the first ending at or
// before the break.
func TestChunkText_ParagraphBreak(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph."
	got := ChunkText(text, 25)

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	if got[0] != "First paragraph." {
		t.Errorf("first chunk = %q, want %q", got[0], "First paragraph.")
	}
	if got[1] != "Second paragraph." {
		t.Errorf("second chunk = %q, want %q", got[1], "Second paragraph.")
	}
}

// TestChunkText_NewlineFallback verifies a single newline is used when no
// paragraph break lies past the half-budget threshold.
func TestChunkText_NewlineFallback(t *testing.T) {
	text := "line one is here\nline two is here\nline three is quite long too"
	got := ChunkText(text, 40)

	if len(got) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(got))
	}
	for i, c := range got {
		if len(c) > 40 {
			t.Errorf("chunk %d exceeds budget: %d chars", i, len(c))
		}
	}
	if strings.HasSuffix(got[0], " ") || strings.HasPrefix(got[1], "\n") {
		t.Error("chunks not trimmed at the break point")
	}
}

// TestChunkText_SpaceFallback verifies a space is used when no newline
// qualifies.
func TestChunkText_SpaceFallback(t *testing.T) {
	text := strings.Repeat("word ", 20) // 100 chars
	got := ChunkText(text, 30)

	for i, c := range got {
		if len(c) > 30 {
			t.Errorf("chunk %d over budget: %q", i, c)
		}
		if strings.Contains(c, "wo rd") {
			t.Errorf("chunk %d split mid-word: %q", i, c)
		}
	}
}

// TestChunkText_HardBreak verifies an unbroken run splits exactly at the
// limit when no boundary qualifies.
func TestChunkText_HardBreak(t *testing.T) {
	text := strings.Repeat("a", 25)
	got := ChunkText(text, 10)

	want := []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestChunkText_HalfBudgetThreshold verifies a boundary in the first half of
// the budget is rejected in favor of a hard break.
func TestChunkText_HalfBudgetThreshold(t *testing.T) {
	// Space at position 2, well under half of the 10-char budget.
	text := "ab " + strings.Repeat("c", 20)
	got := ChunkText(text, 10)

	if got[0] != "ab "+strings.Repeat("c", 7) {
		t.Errorf("first chunk = %q, want hard break at the limit", got[0])
	}
}

// TestChunkText_Lossless verifies rejoining chunks reconstructs the content
// up to whitespace trimming at break points.
func TestChunkText_Lossless(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
	}{
		{"paragraphs", "First paragraph.\n\nSecond paragraph.\n\nThird one here.", 25},
		{"spaces", strings.Repeat("lorem ipsum dolor sit amet ", 10), 40},
		{"hard runs", strings.Repeat("x", 95), 10},
		{"mixed", "short\n" + strings.Repeat("y", 50) + "\ntail end", 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkText(tt.text, tt.max)

			// Compare with all whitespace stripped: breaks only ever trim
			// whitespace, never drop or duplicate other characters.
			normalize := func(s string) string {
				return strings.Join(strings.Fields(s), "")
			}
			if got, want := normalize(strings.Join(chunks, " ")), normalize(tt.text); got != want {
				t.Errorf("content not lossless:\ngot  %q\nwant %q", got, want)
			}
		})
	}
}
