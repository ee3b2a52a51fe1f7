// Package embedding computes product embeddings and keeps the store cache and
// the vector index in sync with the catalog.
package embedding
