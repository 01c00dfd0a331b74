// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"strings"
	"testing"

	"github.com/odras/ragcore/internal/parser"
)

func paragraphs(texts ...string) *parser.Document {
	doc := &parser.Document{}
	for _, t := range texts {
		doc.Blocks = append(doc.Blocks, parser.Block{Type: parser.BlockParagraph, Text: t})
	}
	return doc
}

func TestChunker_ShortDocumentIsOneChunk(t *testing.T) {
	chunker := NewChunker()
	doc := paragraphs("This is a short document that fits in a single chunk.")

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkTypeBody {
		t.Errorf("Expected body chunk, got %s", chunks[0].Type)
	}
	if !strings.Contains(chunks[0].Content, "single chunk") {
		t.Errorf("Chunk content lost: %q", chunks[0].Content)
	}
}

func TestChunker_EmptyDocumentFails(t *testing.T) {
	chunker := NewChunker()

	_, err := chunker.ChunkDocument(&parser.Document{})
	if err != ErrEmptyDocument {
		t.Errorf("Expected ErrEmptyDocument, got: %v", err)
	}

	_, err = chunker.ChunkDocument(paragraphs("   ", "\n"))
	if err != ErrEmptyDocument {
		t.Errorf("Expected ErrEmptyDocument for whitespace-only doc, got: %v", err)
	}
}

func TestChunker_SequenceNumbersAreDense(t *testing.T) {
	chunker := NewChunkerWithOptions(Options{TargetTokens: 40, MaxTokens: 60, MinTokens: 8, OverlapRatio: 0.15})

	sentence := "The quick brown fox jumps over the lazy dog near the river bank today. "
	doc := paragraphs(strings.Repeat(sentence, 30))

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("Sequence numbers not dense at %d: seq=%d", i, c.Seq)
		}
	}
}

func TestChunker_OversizeParagraphSplitsWithOverlap(t *testing.T) {
	opts := Options{TargetTokens: 50, MaxTokens: 70, MinTokens: 8, OverlapRatio: 0.2}
	chunker := NewChunkerWithOptions(opts)

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Sentence number ")
		sb.WriteString(strings.Repeat("word ", 5))
		sb.WriteString("ends here. ")
	}
	doc := paragraphs(sb.String())

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("Expected window split, got %d chunks", len(chunks))
	}

	// Consecutive windows must share at least one sentence.
	overlaps := 0
	for i := 0; i < len(chunks)-1; i++ {
		first := chunks[i].Content
		second := chunks[i+1].Content
		lastSentences := splitSentences(first)
		if len(lastSentences) == 0 {
			continue
		}
		if strings.Contains(second, lastSentences[len(lastSentences)-1]) {
			overlaps++
		}
	}
	if overlaps == 0 {
		t.Errorf("No overlap found between any consecutive windows")
	}

	// No window should wildly exceed the max.
	for _, c := range chunks {
		if c.TokenCount > opts.MaxTokens*2 {
			t.Errorf("Chunk far above max tokens: %d", c.TokenCount)
		}
	}
}

func TestChunker_SectionBoundariesNotMerged(t *testing.T) {
	chunker := NewChunker()
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockHeading, Text: "Introduction", Level: 1},
		{Type: parser.BlockParagraph, Text: "Intro paragraph."},
		{Type: parser.BlockHeading, Text: "Requirements", Level: 1},
		{Type: parser.BlockParagraph, Text: "The system shall respond within two seconds."},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks (one per section), got %d", len(chunks))
	}
	if chunks[0].SectionPath != "Introduction" {
		t.Errorf("Wrong section path: %q", chunks[0].SectionPath)
	}
	if chunks[1].SectionPath != "Requirements" {
		t.Errorf("Wrong section path: %q", chunks[1].SectionPath)
	}
	// No chunk mixes the two sections.
	if strings.Contains(chunks[0].Content, "shall respond") {
		t.Errorf("Section content merged across heading boundary")
	}
}

func TestChunker_NestedSectionPath(t *testing.T) {
	chunker := NewChunker()
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockHeading, Text: "System", Level: 1},
		{Type: parser.BlockHeading, Text: "Wing", Level: 2},
		{Type: parser.BlockParagraph, Text: "The wingspan is 3.2 m."},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "3.2 m") {
			found = true
			if c.SectionPath != "System > Wing" {
				t.Errorf("Expected nested section path, got %q", c.SectionPath)
			}
		}
	}
	if !found {
		t.Fatalf("Content chunk missing")
	}
}

func TestChunker_TablesAndCodeNeverSplit(t *testing.T) {
	chunker := NewChunkerWithOptions(Options{TargetTokens: 20, MaxTokens: 30, MinTokens: 4, OverlapRatio: 0.1})

	bigTable := "Sheet: Data\n" + strings.Repeat("Row 2: Name: Wing, Span: 3.2, Unit: m\n", 40)
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockTable, Text: bigTable},
		{Type: parser.BlockCode, Text: strings.Repeat("func main() { fmt.Println(42) }\n", 20)},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected exactly 2 chunks (table + code), got %d", len(chunks))
	}
	if chunks[0].Type != ChunkTypeTable {
		t.Errorf("Expected table chunk, got %s", chunks[0].Type)
	}
	if chunks[1].Type != ChunkTypeCode {
		t.Errorf("Expected code chunk, got %s", chunks[1].Type)
	}
	// Oversize is expected; content must be intact.
	if CountTokens(chunks[0].Content) <= 30 {
		t.Errorf("Table should be oversize rather than split")
	}
}

func TestChunker_RequirementSentenceStaysWhole(t *testing.T) {
	chunker := NewChunkerWithOptions(Options{TargetTokens: 15, MaxTokens: 20, MinTokens: 4, OverlapRatio: 0.1})

	requirement := "The air vehicle shall maintain a cruise speed of at least one hundred and twenty knots under standard atmospheric conditions at sea level."
	doc := paragraphs("Filler sentence one ends here. " + requirement + " Filler sentence two ends here.")

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, requirement) {
			found = true
		}
	}
	if !found {
		t.Errorf("Requirement sentence was split across chunks")
	}
}

func TestChunker_HeadingFoldedIntoFirstChunk(t *testing.T) {
	chunker := NewChunker()
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockHeading, Text: "Performance", Level: 1},
		{Type: parser.BlockParagraph, Text: "Climb rate exceeds 500 fpm."},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected heading folded into body chunk, got %d chunks", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Content, "Performance") {
		t.Errorf("Heading text missing from chunk: %q", chunks[0].Content)
	}
}

func TestChunker_TrailingHeadingBecomesTitleChunk(t *testing.T) {
	chunker := NewChunker()
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockParagraph, Text: "Body text ends here."},
		{Type: parser.BlockHeading, Text: "Appendix A", Level: 1},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	last := chunks[len(chunks)-1]
	if last.Type != ChunkTypeTitle || last.Content != "Appendix A" {
		t.Errorf("Trailing heading should emit a title chunk, got %+v", last)
	}
}

func TestChunker_PageNumbersCarried(t *testing.T) {
	chunker := NewChunker()
	page := 7
	doc := &parser.Document{Blocks: []parser.Block{
		{Type: parser.BlockParagraph, Text: "The wingspan is 3.2 m.", Page: &page},
	}}

	chunks, err := chunker.ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if chunks[0].Page == nil || *chunks[0].Page != 7 {
		t.Errorf("Page number lost: %+v", chunks[0].Page)
	}
}

func TestCountTokens(t *testing.T) {
	cases := []struct {
		text string
		min  int
		max  int
	}{
		{"", 0, 0},
		{"hello", 1, 1},
		{"hello world", 2, 2},
		{"hello, world!", 3, 5},
	}
	for _, tc := range cases {
		n := CountTokens(tc.text)
		if n < tc.min || n > tc.max {
			t.Errorf("CountTokens(%q) = %d, expected %d-%d", tc.text, n, tc.min, tc.max)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First sentence. Second sentence! Third one? Tail without terminator")
	if len(sentences) != 4 {
		t.Fatalf("Expected 4 sentences, got %d: %v", len(sentences), sentences)
	}
	if sentences[3] != "Tail without terminator" {
		t.Errorf("Tail lost: %q", sentences[3])
	}
}
