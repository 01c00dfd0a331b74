// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workflow

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_LiveShapeRoundTrip(t *testing.T) {
	in := ProcessedQueryEnvelope{Query: "what is the wingspan", ProjectID: "proj-a", TopK: 5, Threshold: 0.25}

	env, err := PackEnvelope(in)
	if err != nil {
		t.Fatalf("PackEnvelope failed: %v", err)
	}
	if env.Type != "Json" {
		t.Errorf("Envelope must be declared Json-typed, got %s", env.Type)
	}
	if _, ok := env.Value.(string); !ok {
		t.Fatalf("Envelope value must be a single JSON string, got %T", env.Value)
	}

	var out ProcessedQueryEnvelope
	if err := ParseEnvelope(Variables{VarProcessedQuery: env}, VarProcessedQuery, &out); err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if out.Query != in.Query || out.TopK != in.TopK || out.Threshold != in.Threshold {
		t.Errorf("Round trip lost data: %+v", out)
	}
}

func TestEnvelope_HistoryShapeNormalised(t *testing.T) {
	// The history API returns the envelope as an already-decoded object
	// rather than a JSON string.
	historyValue := map[string]interface{}{
		"query":      "what is the wingspan",
		"project_id": "proj-a",
		"top_k":      float64(5),
		"threshold":  0.25,
	}
	vars := Variables{VarProcessedQuery: Variable{Value: historyValue, Type: "Json"}}

	var out ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &out); err != nil {
		t.Fatalf("ParseEnvelope failed on history shape: %v", err)
	}
	if out.Query != "what is the wingspan" || out.TopK != 5 {
		t.Errorf("History shape parsed wrong: %+v", out)
	}
}

func TestEnvelope_MissingVariable(t *testing.T) {
	var out ProcessedQueryEnvelope
	if err := ParseEnvelope(Variables{}, VarProcessedQuery, &out); err == nil {
		t.Errorf("Expected error for missing envelope")
	}
}

func TestEnvelope_MalformedJSON(t *testing.T) {
	vars := Variables{VarLLMResponse: Variable{Value: "{not json", Type: "Json"}}
	var out ResponseEnvelope
	if err := ParseEnvelope(vars, VarLLMResponse, &out); err == nil {
		t.Errorf("Expected error for malformed envelope")
	}
}

func TestResponseEnvelope_NullConfidenceSurvives(t *testing.T) {
	env, err := PackEnvelope(ResponseEnvelope{Answer: "Unable to generate a response at this time.", Confidence: nil})
	if err != nil {
		t.Fatalf("PackEnvelope failed: %v", err)
	}

	raw, _ := env.Value.(string)
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("Envelope is not valid JSON: %v", err)
	}
	if v, present := decoded["confidence"]; !present || v != nil {
		t.Errorf("Null confidence must serialise as explicit null, got %v (present=%v)", v, present)
	}
	if _, present := decoded["answer"]; !present {
		t.Errorf("llm_response envelope must always contain an answer field")
	}
}

func TestRawEnvelopeText(t *testing.T) {
	vars := Variables{
		VarFinalResponse: Variable{Value: "plain answer text", Type: "String"},
		VarLLMRaw:        Variable{Value: map[string]interface{}{"text": "x"}, Type: "Json"},
	}
	if got := RawEnvelopeText(vars, VarFinalResponse); got != "plain answer text" {
		t.Errorf("String variable text lost: %q", got)
	}
	if got := RawEnvelopeText(vars, VarLLMRaw); got == "" {
		t.Errorf("Object variable should marshal to text")
	}
	if got := RawEnvelopeText(vars, "nope"); got != "" {
		t.Errorf("Missing variable should return empty, got %q", got)
	}
}
