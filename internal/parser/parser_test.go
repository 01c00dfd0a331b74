// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"strings"
	"testing"
)

func TestParseMarkdown_Structure(t *testing.T) {
	src := "# Title\n\nIntro paragraph.\n\n## Details\n\n- item one\n- item two\n\n```\ncode block\n```\n\nClosing paragraph.\n"

	doc, err := Parse([]byte(src), "doc.md", "text/markdown")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var types []BlockType
	for _, b := range doc.Blocks {
		types = append(types, b.Type)
	}

	expected := []BlockType{BlockHeading, BlockParagraph, BlockHeading, BlockList, BlockCode, BlockParagraph}
	if len(types) != len(expected) {
		t.Fatalf("Expected %d blocks %v, got %d %v", len(expected), expected, len(types), types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("Block %d: expected %s, got %s", i, expected[i], types[i])
		}
	}

	if doc.Blocks[0].Level != 1 || doc.Blocks[2].Level != 2 {
		t.Errorf("Heading levels wrong: %d, %d", doc.Blocks[0].Level, doc.Blocks[2].Level)
	}
	if doc.Blocks[4].Text != "code block" {
		t.Errorf("Code content wrong: %q", doc.Blocks[4].Text)
	}
}

func TestParseText_Paragraphs(t *testing.T) {
	doc, err := Parse([]byte("First paragraph.\n\nSecond paragraph."), "doc.txt", "text/plain")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(doc.Blocks) != 2 {
		t.Fatalf("Expected 2 paragraphs, got %d", len(doc.Blocks))
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	if _, err := Parse([]byte("   \n\n  "), "doc.txt", "text/plain"); err != ErrNoContent {
		t.Errorf("Expected ErrNoContent, got %v", err)
	}
}

func TestParse_InvalidUTF8Flagged(t *testing.T) {
	data := append([]byte("valid text then "), 0xff, 0xfe)
	doc, err := Parse(data, "doc.txt", "text/plain")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !doc.Mojibake {
		t.Errorf("Invalid UTF-8 must set the mojibake flag")
	}
	for _, b := range doc.Blocks {
		if !strings.Contains(b.Text, "valid text") {
			continue
		}
		if strings.Contains(b.Text, "\xff") {
			t.Errorf("Invalid bytes survived decoding")
		}
	}
}

func TestParse_HTML(t *testing.T) {
	src := `<html><head><script>ignored()</script></head><body>
		<h1>Spec</h1><p>The wingspan is 3.2 m.</p>
		<ul><li>item</li></ul></body></html>`

	doc, err := Parse([]byte(src), "doc.html", "text/html")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	foundHeading, foundPara, foundList := false, false, false
	for _, b := range doc.Blocks {
		switch b.Type {
		case BlockHeading:
			foundHeading = b.Text == "Spec"
		case BlockParagraph:
			foundPara = strings.Contains(b.Text, "3.2 m")
		case BlockList:
			foundList = true
		}
		if strings.Contains(b.Text, "ignored") {
			t.Errorf("Script content leaked into blocks")
		}
	}
	if !foundHeading || !foundPara || !foundList {
		t.Errorf("HTML structure lost: heading=%v para=%v list=%v", foundHeading, foundPara, foundList)
	}
}

func TestParse_UnsupportedType(t *testing.T) {
	if _, err := Parse([]byte("x"), "image.png", "image/png"); err == nil {
		t.Errorf("Expected error for unsupported type")
	}
}

func TestNormalizedFormat_MimeWinsOverExtension(t *testing.T) {
	// The file record's MIME type is authoritative.
	if got := normalizedFormat("data.bin", "application/pdf"); got != "pdf" {
		t.Errorf("MIME type should win, got %q", got)
	}
	if got := normalizedFormat("doc.md", ""); got != "markdown" {
		t.Errorf("Extension fallback failed, got %q", got)
	}
}

func TestIsTemporaryFile(t *testing.T) {
	for _, name := range []string{"~$report.docx", "._resource", "upload.tmp"} {
		if !IsTemporaryFile(name) {
			t.Errorf("%s should be temporary", name)
		}
	}
	if IsTemporaryFile("report.docx") {
		t.Errorf("report.docx should not be temporary")
	}
}
