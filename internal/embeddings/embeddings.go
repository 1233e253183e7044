// Package embeddings provides interfaces and implementations for embedding providers.
package embeddings

import (
	"context"
	"errors"
)

// Provider errors
var (
	// ErrNotConfigured indicates the backing credential or model is missing.
	// This is a configuration error: surfaced immediately, never retried.
	ErrNotConfigured = errors.New("embedding provider is not configured")

	// ErrEmptyInput indicates an empty text was passed to Embed.
	ErrEmptyInput = errors.New("embedding input must not be empty")
)

// Provider defines the interface for embedding providers.
//
// Implementations do not retry internally; transport failures and timeouts
// surface to the caller as ordinary errors.
type Provider interface {
	// Embed generates an embedding for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int
}

// Config contains common configuration for embedding providers.
type Config struct {
	Provider string `yaml:"provider"` // openai
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}
