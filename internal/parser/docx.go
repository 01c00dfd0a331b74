// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

// parseDOCX extracts text from DOCX bytes.
func parseDOCX(data []byte) (*Document, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()

	// Word stores each paragraph in a w:p element; turn those into line
	// breaks before stripping the remaining markup.
	content = strings.ReplaceAll(content, "</w:p>", "\n\n")
	content = docxTagPattern.ReplaceAllString(content, "")

	text, mojibake := sanitizeUTF8(content)
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	result := &Document{Mojibake: mojibake}
	for _, para := range splitParagraphs(text) {
		result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: para})
	}
	return result, nil
}
