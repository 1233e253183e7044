// Package models provides domain types for the ReplyPilot response core.
package models

// SourceKind identifies which retrieval strategy produced an item.
type SourceKind string

const (
	// SourceKnowledgeBase is the curated knowledge-base article index.
	SourceKnowledgeBase SourceKind = "knowledge_base"

	// SourceHistoricalCase is the index of previously resolved support cases.
	SourceHistoricalCase SourceKind = "historical_case"

	// SourceConversation is the index of the requester's prior conversations.
	SourceConversation SourceKind = "conversation"
)

// Priority returns the tie-break rank for merged retrieval results.
// Lower is better: knowledge base beats historical cases, which beat
// conversation history.
func (k SourceKind) Priority() int {
	switch k {
	case SourceKnowledgeBase:
		return 0
	case SourceHistoricalCase:
		return 1
	case SourceConversation:
		return 2
	default:
		return 3
	}
}

// RetrievedItem is a single retrieval hit. Items are produced fresh for each
// query and are never persisted by the core.
type RetrievedItem struct {
	// Source identifies the retrieval strategy that produced this item.
	Source SourceKind `json:"source"`

	// ID is the identifier of the underlying article, case, or conversation.
	ID string `json:"id"`

	// Title is a short human-readable label for the item.
	Title string `json:"title,omitempty"`

	// Snippet is the retrieved content fragment.
	Snippet string `json:"snippet"`

	// Similarity is the normalized similarity score in [0, 1].
	Similarity float64 `json:"similarity"`

	// RawScore is the store's unnormalized ranking score.
	RawScore float64 `json:"raw_score,omitempty"`
}

// RagContext is the merged output of one retrieval pipeline invocation.
// It is immutable after construction.
type RagContext struct {
	// Items are the merged retrieval hits, sorted by similarity descending.
	// Ties are broken by source priority, then insertion order.
	Items []RetrievedItem `json:"items"`

	// MergedText is the concatenated snippet text used for prompt assembly.
	MergedText string `json:"merged_text"`

	// ComplexityScore estimates task complexity in [0, 1].
	ComplexityScore float64 `json:"complexity_score"`

	// NeedsDeepReasoning is true when ComplexityScore exceeds the configured
	// escalation threshold.
	NeedsDeepReasoning bool `json:"needs_deep_reasoning"`
}

// Empty reports whether the context carries no retrieved material.
func (c *RagContext) Empty() bool {
	return c == nil || len(c.Items) == 0
}
