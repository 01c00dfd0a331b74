// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/odras/ragcore/internal/ai"
	"github.com/odras/ragcore/internal/retriever"
)

// Confidence labels. "unknown" is the honest default: it is recorded
// whenever the model omits confidence or the reply cannot be parsed, and it
// is never upgraded after the fact.
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceUnknown = "unknown"
)

// FallbackAnswer is returned when the language model is unavailable.
const FallbackAnswer = "Unable to generate a response at this time."

// Citation points a reader back at the evidence.
type Citation struct {
	ChunkID     string  `json:"chunk_id"`
	AssetID     string  `json:"asset_id"`
	Seq         int     `json:"seq"`
	SectionPath string  `json:"section_path,omitempty"`
	Page        *int    `json:"page,omitempty"`
	Score       float32 `json:"score"`
}

// Metadata describes what actually happened during synthesis, including
// partial failures.
type Metadata struct {
	LLMCalled     bool   `json:"llm_called"`
	ContextLength int    `json:"context_length"`
	ChunksFound   int    `json:"chunks_found"`
	Model         string `json:"model,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Answer is the normalised synthesis result. Callers always receive one,
// even on partial failure.
type Answer struct {
	Answer     string     `json:"answer"`
	Confidence string     `json:"confidence"`
	KeyPoints  []string   `json:"key_points,omitempty"`
	Citations  []Citation `json:"citations"`
	Metadata   Metadata   `json:"metadata"`
}

// Synthesizer turns ranked chunks and a question into a grounded, cited
// answer.
type Synthesizer struct {
	llm ai.Client
}

// New creates a synthesizer.
func New(llm ai.Client) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// BuildPrompt renders the grounding prompt. Chunks are addressed by stable
// [Context i] markers the model must cite.
func BuildPrompt(question string, chunks []retriever.Result) (system, user string) {
	system = `You are a knowledge assistant that answers questions strictly from the provided context.
Rules:
- Ground every statement in the context sections; do not use outside knowledge.
- Cite sections by their markers, e.g. [Context 1].
- Set "confidence" honestly: "high" only when the context clearly answers the question, "low" when it barely does, "unknown" when it does not.
- Reply with a single JSON object: {"answer": string, "confidence": "high"|"medium"|"low"|"unknown", "key_points": [string]}. No other text.`

	var sb strings.Builder
	for i, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("[Context %d]", i+1))
		if chunk.SectionPath != "" {
			sb.WriteString(" (" + chunk.SectionPath + ")")
		}
		sb.WriteString("\n")
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)

	return system, sb.String()
}

// Answer synthesises a cited answer from ranked chunks. Provider failures
// degrade to a normalised fallback answer rather than an error: the caller
// still gets citations from retrieval and an honest "unknown" confidence.
func (s *Synthesizer) Answer(ctx context.Context, question string, chunks []retriever.Result) (*Answer, error) {
	citations := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, Citation{
			ChunkID:     c.ChunkID,
			AssetID:     c.AssetID,
			Seq:         c.Seq,
			SectionPath: c.SectionPath,
			Page:        c.Page,
			Score:       c.Score,
		})
	}

	if len(chunks) == 0 {
		return &Answer{
			Answer:     "No relevant information was found in the knowledge base for this question.",
			Confidence: ConfidenceUnknown,
			Citations:  citations,
			Metadata:   Metadata{LLMCalled: false, ChunksFound: 0},
		}, nil
	}

	system, user := BuildPrompt(question, chunks)

	raw, usage, err := s.llm.Complete(ctx, ai.CompletionRequest{
		System:      system,
		Prompt:      user,
		Temperature: 0.1,
	})
	if err != nil {
		log.Printf("Answer: completion failed: %v", err)
		return &Answer{
			Answer:     FallbackAnswer,
			Confidence: ConfidenceUnknown,
			Citations:  citations,
			Metadata: Metadata{
				LLMCalled:     true,
				ContextLength: len(user),
				ChunksFound:   len(chunks),
				Error:         err.Error(),
			},
		}, nil
	}

	answer := ParseReply(raw)
	answer.Citations = citations
	answer.Metadata = Metadata{
		LLMCalled:     true,
		ContextLength: len(user),
		ChunksFound:   len(chunks),
	}
	if usage != nil {
		answer.Metadata.Model = usage.Model
	}
	return answer, nil
}

// ParseReply parses the model's structured reply. Parse failures downgrade
// to the raw text with confidence "unknown" — never a fabricated "medium".
func ParseReply(raw string) *Answer {
	payload := extractJSON(raw)

	var parsed struct {
		Answer     string   `json:"answer"`
		Confidence string   `json:"confidence"`
		KeyPoints  []string `json:"key_points"`
	}
	if payload == "" || json.Unmarshal([]byte(payload), &parsed) != nil || parsed.Answer == "" {
		return &Answer{
			Answer:     strings.TrimSpace(raw),
			Confidence: ConfidenceUnknown,
		}
	}

	return &Answer{
		Answer:     parsed.Answer,
		Confidence: NormalizeConfidence(parsed.Confidence),
		KeyPoints:  parsed.KeyPoints,
	}
}

// NormalizeConfidence clamps a confidence label to the allowed set. Anything
// unrecognised, including an omitted value, becomes "unknown".
func NormalizeConfidence(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceUnknown
	}
}

// extractJSON pulls the first JSON object out of a reply that may be wrapped
// in markdown fences or prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
