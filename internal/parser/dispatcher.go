// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Parse routes file bytes to the appropriate parser. The MIME type recorded
// on the file record wins; the filename extension is the fallback.
func Parse(data []byte, filename, mimeType string) (*Document, error) {
	switch normalizedFormat(filename, mimeType) {
	case "pdf":
		return parsePDF(data)
	case "docx":
		return parseDOCX(data)
	case "text":
		return parseText(data)
	case "markdown":
		return parseMarkdown(data)
	case "excel":
		return parseExcel(data)
	case "html":
		return parseHTML(data)
	case "email":
		return parseEmail(data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s (%s)", filepath.Ext(filename), mimeType)
	}
}

// IsSupported checks whether a file can be parsed, by MIME type or extension.
func IsSupported(filename, mimeType string) bool {
	return normalizedFormat(filename, mimeType) != ""
}

func normalizedFormat(filename, mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/plain":
		return "text"
	case "text/markdown":
		return "markdown"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		return "excel"
	case "text/html":
		return "html"
	case "message/rfc822":
		return "email"
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".txt":
		return "text"
	case ".md":
		return "markdown"
	case ".xlsx", ".xls":
		return "excel"
	case ".html", ".htm":
		return "html"
	case ".eml":
		return "email"
	}
	return ""
}

// IsTemporaryFile checks if a filename looks like an editor temp file
// (e.g., ~$doc.docx). The drop-folder watcher skips these.
func IsTemporaryFile(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, "~$") {
		return true
	}
	if strings.HasPrefix(base, "._") {
		return true
	}
	if strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}
