// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workflow

import (
	"encoding/json"
	"fmt"
)

// Envelope variable names. Each external task carries its structured output
// as one prefixed, JSON-typed string variable; downstream tasks parse those
// envelopes and emit their own. Loose primitives do not reliably survive
// task boundaries, so no task depends on one: final_response, a plain String
// copy of the answer emitted by process-response, is read only as a fallback.
const (
	VarQueryRequest   = "query_request"
	VarProcessedQuery = "processed_query"
	VarRetrievalChunks = "retrieval_chunks"
	VarRerankedChunks = "reranked_chunks"
	VarLLMPrompt      = "llm_prompt"
	VarLLMRaw         = "llm_raw"
	VarLLMResponse    = "llm_response"
	VarFinalResponse  = "final_response"
)

// Variable is an engine-typed process variable. Type is declared explicitly
// (String/Integer/Double/Boolean/Json) so the engine persists it faithfully.
type Variable struct {
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
}

// Variables maps variable names to typed values.
type Variables map[string]Variable

// PackEnvelope serialises a structured payload into a single JSON-typed
// string variable.
func PackEnvelope(v interface{}) (Variable, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Variable{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return Variable{Value: string(data), Type: "Json"}, nil
}

// ParseEnvelope decodes a named envelope variable into out. It normalises
// the two shapes the engine produces: the live API returns the JSON as a
// string value, the history API may return it as an already-decoded object.
func ParseEnvelope(vars Variables, name string, out interface{}) error {
	v, ok := vars[name]
	if !ok || v.Value == nil {
		return fmt.Errorf("envelope variable %s missing", name)
	}

	switch value := v.Value.(type) {
	case string:
		if err := json.Unmarshal([]byte(value), out); err != nil {
			return fmt.Errorf("envelope %s is not valid JSON: %w", name, err)
		}
		return nil
	default:
		// History shape: re-marshal the decoded object into the target.
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("envelope %s has unusable shape: %w", name, err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("envelope %s does not match expected shape: %w", name, err)
		}
		return nil
	}
}

// RawEnvelopeText returns the envelope's raw text when it exists in any
// shape, for the text-extraction fallback when parsing fails.
func RawEnvelopeText(vars Variables, name string) string {
	v, ok := vars[name]
	if !ok || v.Value == nil {
		return ""
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	data, err := json.Marshal(v.Value)
	if err != nil {
		return ""
	}
	return string(data)
}

// QueryRequestEnvelope starts the orchestrated query.
type QueryRequestEnvelope struct {
	Question      string   `json:"question"`
	ProjectID     string   `json:"project_id"`
	UserID        string   `json:"user_id,omitempty"`
	Admin         bool     `json:"admin,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"`
	MaxChunks     int      `json:"max_chunks,omitempty"`
	MinRelevance  float64  `json:"min_relevance,omitempty"`
}

// ProcessedQueryEnvelope is the process-query task output.
type ProcessedQueryEnvelope struct {
	Query         string   `json:"query"`
	ProjectID     string   `json:"project_id"`
	UserID        string   `json:"user_id,omitempty"`
	Admin         bool     `json:"admin,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"`
	TopK          int      `json:"top_k"`
	Threshold     float64  `json:"threshold"`
	Comprehensive bool     `json:"comprehensive"`
}

// ChunkRef is one retrieved chunk inside an envelope.
type ChunkRef struct {
	ChunkID     string  `json:"chunk_id"`
	AssetID     string  `json:"asset_id"`
	Content     string  `json:"content"`
	SectionPath string  `json:"section_path,omitempty"`
	Page        *int    `json:"page,omitempty"`
	Seq         int     `json:"seq"`
	Score       float32 `json:"score"`
}

// ChunksEnvelope is the retrieve-chunks / rerank-chunks task output.
type ChunksEnvelope struct {
	Chunks   []ChunkRef `json:"chunks"`
	Count    int        `json:"count"`
	Widened  bool       `json:"widened,omitempty"`
}

// PromptEnvelope is the construct-prompt task output.
type PromptEnvelope struct {
	System        string `json:"system"`
	User          string `json:"user"`
	ContextLength int    `json:"context_length"`
}

// RawReplyEnvelope is the llm-generate task output.
type RawReplyEnvelope struct {
	Text      string `json:"text"`
	LLMCalled bool   `json:"llm_called"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ResponseMetadata rides inside the llm_response envelope.
type ResponseMetadata struct {
	LLMCalled     bool       `json:"llm_called"`
	ContextLength int        `json:"context_length"`
	ChunksFound   int        `json:"chunks_found"`
	Sources       []string   `json:"sources,omitempty"`
	Citations     []ChunkRef `json:"citations,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ResponseEnvelope is the final llm_response envelope. Confidence is null
// when the model omitted it; the status endpoint maps null to "unknown" and
// never upgrades it.
type ResponseEnvelope struct {
	Answer     string           `json:"answer"`
	Confidence *string          `json:"confidence"`
	KeyPoints  []string         `json:"key_points"`
	Metadata   ResponseMetadata `json:"metadata"`
}
