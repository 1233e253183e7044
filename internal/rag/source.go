// Package rag provides the multi-source retrieval pipeline that grounds
// agent answers in knowledge-base articles, resolved cases, and the
// requester's conversation history.
package rag

import (
	"context"
	"fmt"

	"github.com/replypilot/replypilot/internal/vecstore"
	"github.com/replypilot/replypilot/pkg/models"
)

// SourceConfig configures one retrieval source.
type SourceConfig struct {
	// Enabled controls whether the source participates in retrieval.
	// A disabled source contributes nothing and makes no backend call.
	Enabled bool `yaml:"enabled"`

	// TopK is the maximum number of candidates requested from the store.
	TopK int `yaml:"top_k"`

	// MinScore filters out candidates below this similarity.
	MinScore float64 `yaml:"min_score"`
}

// Query is the per-invocation input shared by all sources. The pipeline
// embeds the query text once and hands the same vector to every source.
type Query struct {
	// UserID scopes owner-filtered sources.
	UserID string

	// Embedding is the query vector.
	Embedding []float32
}

// Source is one retrieval strategy. Implementations filter their own results
// by MinScore before returning them.
type Source interface {
	// Kind identifies the strategy.
	Kind() models.SourceKind

	// Enabled reports whether the source should be invoked.
	Enabled() bool

	// Retrieve returns items with similarity >= MinScore, ranked descending.
	Retrieve(ctx context.Context, q Query) ([]models.RetrievedItem, error)
}

// vectorSource retrieves from one kind-partition of the shared vector store.
type vectorSource struct {
	kind       models.SourceKind
	cfg        SourceConfig
	store      vecstore.Store
	ownerScope bool
}

// NewKnowledgeBaseSource searches shared knowledge-base articles.
// Knowledge-base content is not owner-scoped.
func NewKnowledgeBaseSource(cfg SourceConfig, store vecstore.Store) Source {
	return &vectorSource{kind: models.SourceKnowledgeBase, cfg: cfg, store: store}
}

// NewHistoricalCaseSource searches the requester's previously resolved cases.
func NewHistoricalCaseSource(cfg SourceConfig, store vecstore.Store) Source {
	return &vectorSource{kind: models.SourceHistoricalCase, cfg: cfg, store: store, ownerScope: true}
}

// NewConversationSource searches the requester's prior conversations.
func NewConversationSource(cfg SourceConfig, store vecstore.Store) Source {
	return &vectorSource{kind: models.SourceConversation, cfg: cfg, store: store, ownerScope: true}
}

func (s *vectorSource) Kind() models.SourceKind {
	return s.kind
}

func (s *vectorSource) Enabled() bool {
	return s.cfg.Enabled && s.cfg.TopK > 0
}

func (s *vectorSource) Retrieve(ctx context.Context, q Query) ([]models.RetrievedItem, error) {
	req := &vecstore.SearchRequest{
		Kind:  s.kind,
		Limit: s.cfg.TopK,
	}
	if s.ownerScope {
		req.OwnerID = q.UserID
	}

	matches, err := s.store.Search(ctx, req, q.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", s.kind, err)
	}

	items := make([]models.RetrievedItem, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < s.cfg.MinScore {
			continue
		}
		items = append(items, models.RetrievedItem{
			Source:     s.kind,
			ID:         m.ID,
			Title:      m.Title,
			Snippet:    m.Snippet,
			Similarity: m.Similarity,
			RawScore:   m.RawScore,
		})
	}
	return items, nil
}
