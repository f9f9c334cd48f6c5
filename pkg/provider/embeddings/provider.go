// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The memory layer embeds long-term memory snippets and incoming prompts to
// retrieve semantically related context beyond the per-user record. Vectors
// from one Provider instance all share the dimensionality reported by
// Dimensions; vectors from different instances must not be mixed in one
// similarity computation.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// result has length Dimensions(). Text passes through verbatim; any
	// model-specific prefixing is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider call.
	// The i-th result corresponds to texts[i]. On error no partial results
	// are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific embedding model identifier.
	ModelID() string
}
