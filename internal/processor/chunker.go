// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"errors"
	"strings"

	"github.com/odras/ragcore/internal/parser"
)

// ErrEmptyDocument is returned when a document yields no chunks. The asset
// transitions to failed with this reason.
var ErrEmptyDocument = errors.New("document contains no chunkable text")

// Chunk types. Sequence numbers are assigned here, in document order, and
// never renumbered.
const (
	ChunkTypeTitle = "title"
	ChunkTypeBody  = "body"
	ChunkTypeList  = "list"
	ChunkTypeTable = "table"
	ChunkTypeCode  = "code"
)

// Chunk is one retrieval unit produced by the chunker.
type Chunk struct {
	Seq         int
	Type        string
	Content     string
	SectionPath string
	Page        *int
	TokenCount  int
}

// Options control chunk sizing, all measured in tokens.
type Options struct {
	TargetTokens int
	MaxTokens    int
	// MinTokens is carried and defaulted but not applied by ChunkDocument:
	// chunks shorter than it are emitted as they are, never merged.
	MinTokens    int
	OverlapRatio float64
}

// DefaultOptions returns the standard sizing: 256-512 token chunks with
// 15% overlap on fixed-window splits.
func DefaultOptions() Options {
	return Options{
		TargetTokens: 384,
		MaxTokens:    512,
		MinTokens:    64,
		OverlapRatio: 0.15,
	}
}

// Chunker splits parsed documents into semantically bounded chunks: section
// boundaries first, size normalisation second, sliding-window fallback last.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with default sizing.
func NewChunker() *Chunker {
	return &Chunker{opts: DefaultOptions()}
}

// NewChunkerWithOptions creates a chunker with explicit sizing.
func NewChunkerWithOptions(opts Options) *Chunker {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = 384
	}
	if opts.MaxTokens < opts.TargetTokens {
		opts.MaxTokens = opts.TargetTokens + opts.TargetTokens/3
	}
	if opts.MinTokens <= 0 {
		opts.MinTokens = 64
	}
	if opts.OverlapRatio <= 0 || opts.OverlapRatio > 0.5 {
		opts.OverlapRatio = 0.15
	}
	return &Chunker{opts: opts}
}

// chunkRun is a sequence of consecutive blocks of one type within one
// section, packed together before size normalisation.
type chunkRun struct {
	blockType parser.BlockType
	texts     []string
	page      *int
}

// ChunkDocument converts a parsed document into ordered chunks. The
// concatenation of chunk contents covers the document text.
func (c *Chunker) ChunkDocument(doc *parser.Document) ([]Chunk, error) {
	if doc == nil || doc.Empty() {
		return nil, ErrEmptyDocument
	}

	var (
		out          []Chunk
		sections     []string
		run          *chunkRun
		pendingTitle string
		titlePage    *int
	)

	sectionPath := func() string {
		return strings.Join(sections, " > ")
	}

	emit := func(chunkType, content, section string, page *int) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if pendingTitle != "" {
			// Fold the section heading into its first chunk so heading text
			// stays searchable without sub-minimum title chunks.
			content = pendingTitle + "\n\n" + content
			pendingTitle = ""
		}
		out = append(out, Chunk{
			Type:        chunkType,
			Content:     content,
			SectionPath: section,
			Page:        page,
			TokenCount:  CountTokens(content),
		})
	}

	flushRun := func() {
		if run == nil {
			return
		}
		section := sectionPath()
		text := strings.TrimSpace(strings.Join(run.texts, "\n\n"))
		chunkType := ChunkTypeBody
		if run.blockType == parser.BlockList {
			chunkType = ChunkTypeList
		}

		if CountTokens(text) <= c.opts.MaxTokens {
			emit(chunkType, text, section, run.page)
		} else {
			for _, window := range c.windowText(text) {
				emit(chunkType, window, section, run.page)
			}
		}
		run = nil
	}

	flushTitle := func() {
		// A heading whose section had no content still becomes a chunk of
		// its own, however short.
		if pendingTitle == "" {
			return
		}
		title := pendingTitle
		pendingTitle = ""
		out = append(out, Chunk{
			Type:        ChunkTypeTitle,
			Content:     title,
			SectionPath: sectionPath(),
			Page:        titlePage,
			TokenCount:  CountTokens(title),
		})
	}

	for _, block := range doc.Blocks {
		switch block.Type {
		case parser.BlockHeading:
			flushRun()
			flushTitle()

			level := block.Level
			if level <= 0 {
				level = 1
			}
			if level <= len(sections) {
				sections = sections[:level-1]
			}
			sections = append(sections, block.Text)
			pendingTitle = block.Text
			titlePage = block.Page

		case parser.BlockTable, parser.BlockCode:
			flushRun()
			chunkType := ChunkTypeTable
			if block.Type == parser.BlockCode {
				chunkType = ChunkTypeCode
			}
			// Tables and code blocks are never split internally, even when
			// oversize.
			emit(chunkType, block.Text, sectionPath(), block.Page)

		default:
			if run != nil && run.blockType != block.Type {
				flushRun()
			}
			if run == nil {
				run = &chunkRun{blockType: block.Type, page: block.Page}
			} else if CountTokens(strings.Join(run.texts, "\n\n"))+CountTokens(block.Text) > c.opts.MaxTokens {
				// The run is full; starting a fresh one keeps paragraph
				// boundaries as split points instead of mid-run windows.
				flushRun()
				run = &chunkRun{blockType: block.Type, page: block.Page}
			}
			run.texts = append(run.texts, block.Text)
		}
	}

	flushRun()
	flushTitle()

	if len(out) == 0 {
		return nil, ErrEmptyDocument
	}

	for i := range out {
		out[i].Seq = i
	}
	return out, nil
}

// windowText splits oversize text with a sliding window measured in tokens,
// preferring sentence boundaries and overlapping windows so cross-boundary
// context survives. Requirement sentences are never broken, even oversize.
func (c *Chunker) windowText(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	overlapTokens := int(float64(c.opts.TargetTokens) * c.opts.OverlapRatio)
	var windows []string

	i := 0
	for i < len(sentences) {
		var window []string
		tokens := 0

		j := i
		for j < len(sentences) {
			sentTokens := CountTokens(sentences[j])
			if len(window) > 0 && tokens+sentTokens > c.opts.TargetTokens {
				// Requirement sentences ride along past the target rather
				// than open the next window mid-requirement context.
				if !isRequirementSentence(sentences[j]) || tokens+sentTokens > c.opts.MaxTokens {
					break
				}
			}
			window = append(window, sentences[j])
			tokens += sentTokens
			j++
			if tokens >= c.opts.TargetTokens {
				break
			}
		}

		windows = append(windows, strings.Join(window, " "))
		if j >= len(sentences) {
			break
		}

		// Back off whole sentences worth of the overlap budget, but always
		// advance by at least one sentence.
		back := 0
		backTokens := 0
		for back < len(window)-1 {
			t := CountTokens(window[len(window)-1-back])
			if backTokens+t > overlapTokens {
				break
			}
			backTokens += t
			back++
		}
		i = j - back
	}

	return windows
}
