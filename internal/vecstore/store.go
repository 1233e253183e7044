// Package vecstore provides nearest-neighbor search over stored embeddings
// for the retrieval sources.
package vecstore

import (
	"context"

	"github.com/replypilot/replypilot/pkg/models"
)

// SearchRequest scopes a nearest-neighbor query.
type SearchRequest struct {
	// Kind limits the search to one retrieval index.
	Kind models.SourceKind

	// OwnerID limits the search to rows owned by one user.
	// Empty means unscoped (shared knowledge-base content).
	OwnerID string

	// Limit is the maximum number of candidates to return. Must be >= 1.
	Limit int
}

// Match is one ranked candidate. The adapter returns raw ranked candidates;
// similarity-threshold filtering is the retrieval source's responsibility,
// so raw and filtered counts can both be reported.
type Match struct {
	// ID identifies the underlying article, case, or conversation.
	ID string

	// Title is a short label for the row.
	Title string

	// Snippet is the stored content fragment.
	Snippet string

	// Similarity is the normalized similarity in [0, 1].
	Similarity float64

	// RawScore is the store's native ranking score (cosine distance
	// complement for pgvector).
	RawScore float64
}

// Store defines the vector store adapter. Implementations handle their own
// concurrency control; a zero-match query returns an empty slice, not an error.
type Store interface {
	// Search returns up to req.Limit candidates ranked by similarity descending.
	Search(ctx context.Context, req *SearchRequest, embedding []float32) ([]Match, error)

	// Close releases resources.
	Close() error
}
