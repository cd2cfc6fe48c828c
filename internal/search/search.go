// Package search implements the hybrid retrieval pipeline for marginalia.
//
// Two retrieval modes are combined per query:
// - Lexical: case-insensitive substring matching over content and notes
// - Semantic: cosine similarity between the query embedding and stored
//   highlight embeddings
//
// Semantic matches always outrank lexical-only matches. When the embedding
// provider is unavailable the pipeline degrades to lexical-only results
// instead of failing the search.
package search
