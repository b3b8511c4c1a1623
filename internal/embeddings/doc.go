// Package embeddings turns text into fixed-dimension vectors.
//
// Two providers are supported: Ollama through langchaingo, and a Text
// Embeddings Inference (TEI) server over its JSON API. NewProvider wraps the
// selected provider so every returned vector is checked against the
// configured dimension and every call is measured.
package embeddings
