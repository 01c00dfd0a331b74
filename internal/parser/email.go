// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mnako/letters"
)

// parseEmail extracts text from EML bytes. Headers become a leading
// paragraph so sender and subject are searchable.
func parseEmail(data []byte) (*Document, error) {
	email, err := letters.ParseEmail(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse EML: %w", err)
	}

	var header strings.Builder
	if email.Headers.Subject != "" {
		header.WriteString(fmt.Sprintf("Subject: %s\n", email.Headers.Subject))
	}
	if len(email.Headers.From) > 0 {
		from := email.Headers.From[0]
		if from.Name != "" {
			header.WriteString(fmt.Sprintf("Sender: %s <%s>\n", from.Name, from.Address))
		} else {
			header.WriteString(fmt.Sprintf("Sender: %s\n", from.Address))
		}
	}
	if !email.Headers.Date.IsZero() {
		header.WriteString(fmt.Sprintf("Date: %s\n", email.Headers.Date.Format(time.RFC3339)))
	}

	bodyText := email.Text
	if bodyText == "" {
		bodyText = email.HTML
	}

	result := &Document{}
	if h := strings.TrimSpace(header.String()); h != "" {
		result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: h})
	}

	clean, mojibake := sanitizeUTF8(bodyText)
	result.Mojibake = mojibake
	for _, para := range splitParagraphs(clean) {
		result.Blocks = append(result.Blocks, Block{Type: BlockParagraph, Text: para})
	}

	if result.Empty() {
		return nil, ErrNoContent
	}
	return result, nil
}
