// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"strings"
)

// parseText turns plain text into paragraph blocks split on blank lines.
func parseText(data []byte) (*Document, error) {
	text, mojibake := sanitizeUTF8(string(data))
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	doc := &Document{Mojibake: mojibake}
	for _, para := range splitParagraphs(text) {
		doc.Blocks = append(doc.Blocks, Block{Type: BlockParagraph, Text: para})
	}
	return doc, nil
}

// parseMarkdown recognises headings, fenced code blocks, and list regions so
// the chunker can respect structural boundaries.
func parseMarkdown(data []byte) (*Document, error) {
	text, mojibake := sanitizeUTF8(string(data))
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	doc := &Document{Mojibake: mojibake}
	lines := strings.Split(text, "\n")

	var para []string
	var code []string
	inCode := false
	listRun := false

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		blockType := BlockParagraph
		if listRun {
			blockType = BlockList
		}
		joined := strings.TrimSpace(strings.Join(para, "\n"))
		if joined != "" {
			doc.Blocks = append(doc.Blocks, Block{Type: blockType, Text: joined})
		}
		para = nil
		listRun = false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				doc.Blocks = append(doc.Blocks, Block{Type: BlockCode, Text: strings.Join(code, "\n")})
				code = nil
				inCode = false
			} else {
				flushPara()
				inCode = true
			}
			continue
		}
		if inCode {
			code = append(code, line)
			continue
		}

		if level := headingLevel(trimmed); level > 0 {
			flushPara()
			doc.Blocks = append(doc.Blocks, Block{
				Type:  BlockHeading,
				Text:  strings.TrimSpace(strings.TrimLeft(trimmed, "#")),
				Level: level,
			})
			continue
		}

		if trimmed == "" {
			flushPara()
			continue
		}

		if isListLine(trimmed) {
			if len(para) > 0 && !listRun {
				flushPara()
			}
			listRun = true
		}
		para = append(para, line)
	}

	if inCode && len(code) > 0 {
		// Unterminated fence; keep the content rather than drop it.
		doc.Blocks = append(doc.Blocks, Block{Type: BlockCode, Text: strings.Join(code, "\n")})
	}
	flushPara()

	if doc.Empty() {
		return nil, ErrNoContent
	}
	return doc, nil
}

func headingLevel(line string) int {
	level := 0
	for _, r := range line {
		if r == '#' {
			level++
			continue
		}
		if r == ' ' && level > 0 && level <= 6 {
			return level
		}
		return 0
	}
	return 0
}

func isListLine(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "+ ") {
		return true
	}
	// Numbered list: "1. " / "12) "
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line)-1 && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return true
	}
	return false
}

func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	for _, raw := range strings.Split(normalized, "\n\n") {
		p := strings.TrimSpace(raw)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
