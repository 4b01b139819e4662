// Package tools holds one handler per tool of the dispatch surface, all
// sharing a parse -> validate -> schema/freshness gate -> execute ->
// shape -> attach-metadata pipeline. Handlers register as plain functions
// on the rpcserver registry; shaping helpers live in shape.go.
package tools

import (
	"encoding/json"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/retrieval"
	"github.com/signalridge/cruxe/internal/rpcserver"
)

// Metadata is the protocol metadata block attached to every tool response.
type Metadata struct {
	ProtocolVersion          string   `json:"codecompass_protocol_version"`
	Ref                      string   `json:"ref"`
	FreshnessStatus          string   `json:"freshness_status"`
	IndexingStatus           string   `json:"indexing_status"`
	ResultCompleteness       string   `json:"result_completeness"`
	SchemaStatus             string   `json:"schema_status"`
	Warnings                 []string `json:"warnings,omitempty"`
	SuppressedDuplicateCount int      `json:"suppressed_duplicate_count,omitempty"`
	SafetyLimitApplied       bool     `json:"safety_limit_applied,omitempty"`
	SemanticTriggered        bool     `json:"semantic_triggered,omitempty"`
	SemanticRatioUsed        float64  `json:"semantic_ratio_used,omitempty"`
	SemanticBudgetExhausted  bool     `json:"semantic_budget_exhausted,omitempty"`
	SemanticFallback         bool     `json:"semantic_fallback,omitempty"`
	SemanticSkippedReason    string   `json:"semantic_skipped_reason,omitempty"`
	RerankFallback           bool     `json:"rerank_fallback,omitempty"`
	RerankFallbackReason     string   `json:"rerank_fallback_reason,omitempty"`
	LowConfidence            bool     `json:"low_confidence,omitempty"`
	SuggestedAction          string   `json:"suggested_action,omitempty"`
	ExternalProviderGateOpen bool     `json:"external_provider_gate_open"`
}

// newMetadata builds the baseline metadata block for one request; callers
// fill in the retrieval-specific fields afterwards.
func newMetadata(rc *rpcserver.RequestContext, ref string, gate *gateResult) Metadata {
	md := Metadata{
		ProtocolVersion:    rpcserver.ProtocolVersion,
		Ref:                ref,
		FreshnessStatus:    "fresh",
		IndexingStatus:     rc.Workspace.IndexingStatus,
		ResultCompleteness: "complete",
		SchemaStatus:       "ok",
		ExternalProviderGateOpen: rc.Config.Search.Semantic.ExternalProviderEnabled &&
			rc.Config.Search.Semantic.AllowCodePayloadToExternal,
	}
	if gate != nil {
		md.FreshnessStatus = gate.FreshnessStatus
		md.SchemaStatus = gate.SchemaStatus
	}
	return md
}

// absorbRetrieval copies a retrieval response's reporting fields into md.
func (md *Metadata) absorbRetrieval(resp *retrieval.Response) {
	md.SuppressedDuplicateCount = resp.SuppressedDuplicateCount
	md.SemanticTriggered = resp.SemanticTriggered
	md.SemanticRatioUsed = resp.SemanticRatioUsed
	md.SemanticBudgetExhausted = resp.SemanticBudgetExhausted
	md.SemanticFallback = resp.SemanticFallback
	md.SemanticSkippedReason = resp.SemanticSkippedReason
	md.RerankFallback = resp.RerankFallback
	md.RerankFallbackReason = resp.RerankFallbackReason
	md.LowConfidence = resp.LowConfidence
	md.SuggestedAction = resp.SuggestedAction
}

// parseArgs unmarshals a tool's raw arguments into T, hard-rejecting
// malformed input (the caller is an agent that should retry with valid
// arguments, per the input-validation asymmetry in the design notes).
func parseArgs[T any](params json.RawMessage) (*T, *cerrors.ToolError) {
	var args T
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, cerrors.Newf(cerrors.CodeInvalidInput, "invalid arguments: %v", err)
		}
	}
	return &args, nil
}
