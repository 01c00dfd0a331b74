// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML extracts text from HTML bytes, keeping headings as structural
// boundaries and dropping script/style content.
func parseHTML(data []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	result := &Document{}
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, table").Each(func(i int, s *goquery.Selection) {
		text, mojibake := sanitizeUTF8(strings.TrimSpace(s.Text()))
		if mojibake {
			result.Mojibake = true
		}
		if text == "" {
			return
		}

		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(goquery.NodeName(s)[1] - '0')
			result.Blocks = append(result.Blocks, Block{Type: BlockHeading, Text: text, Level: level})
		case "li":
			result.Blocks = append(result.Blocks, Block{Type: BlockList, Text: text})
		case "pre":
			result.Blocks = append(result.Blocks, Block{Type: BlockCode, Text: text})
		case "table":
			result.Blocks = append(result.Blocks, Block{Type: BlockTable, Text: text})
		default:
			result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: text})
		}
	})

	// Fallback for pages without semantic markup.
	if len(result.Blocks) == 0 {
		text, mojibake := sanitizeUTF8(strings.TrimSpace(doc.Text()))
		if mojibake {
			result.Mojibake = true
		}
		for _, para := range splitParagraphs(text) {
			result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: para})
		}
	}

	if result.Empty() {
		return nil, ErrNoContent
	}
	return result, nil
}
