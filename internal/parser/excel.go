// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseExcel extracts spreadsheet content as table blocks, one per sheet,
// using the "markdownification" strategy: each row rendered as
// "Header: Value" pairs so embeddings keep column context.
func parseExcel(data []byte) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetList := f.GetSheetList()
	if len(sheetList) == 0 {
		return nil, ErrNoContent
	}

	result := &Document{}
	for _, sheetName := range sheetList {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			// Skip unreadable sheets (e.g. password protected).
			continue
		}
		if len(rows) == 0 {
			continue
		}

		headers := rows[0]
		var builder strings.Builder
		builder.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))

		for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
			row := rows[rowIdx]
			rowParts := []string{}
			for colIdx, header := range headers {
				if colIdx < len(row) && strings.TrimSpace(row[colIdx]) != "" {
					headerName := strings.TrimSpace(header)
					if headerName == "" {
						headerName = fmt.Sprintf("Column %d", colIdx+1)
					}
					rowParts = append(rowParts, fmt.Sprintf("%s: %s", headerName, strings.TrimSpace(row[colIdx])))
				}
			}
			if len(rowParts) > 0 {
				builder.WriteString(fmt.Sprintf("Row %d: %s\n", rowIdx+1, strings.Join(rowParts, ", ")))
			}
		}

		sheetText, mojibake := sanitizeUTF8(strings.TrimSpace(builder.String()))
		if mojibake {
			result.Mojibake = true
		}
		if sheetText != "" {
			result.Blocks = append(result.Blocks, Block{Type: BlockTable, Text: sheetText})
		}
	}

	if result.Empty() {
		return nil, ErrNoContent
	}
	return result, nil
}
