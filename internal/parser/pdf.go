// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// parsePDF extracts text from PDF bytes using go-fitz (MuPDF), preserving
// page numbers on every block so citations can point at the right page.
// API reference: https://pkg.go.dev/github.com/gen2brain/go-fitz
func parsePDF(data []byte) (*Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	result := &Document{}
	numPages := doc.NumPage()

	for i := 0; i < numPages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			// Skip unreadable pages, keep the rest.
			continue
		}

		clean, mojibake := sanitizeUTF8(pageText)
		if mojibake {
			result.Mojibake = true
		}

		page := i + 1
		for _, para := range splitParagraphs(clean) {
			p := page
			result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: para, Page: &p})
		}
	}

	if result.Empty() {
		return nil, ErrNoContent
	}
	return result, nil
}
