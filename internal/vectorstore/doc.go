// Package vectorstore persists chunk embeddings and answers similarity queries.
//
// Two backends implement Index:
//
//   - QdrantStore talks to a Qdrant server over its native gRPC API. Transient
//     failures are retried with exponential backoff behind a circuit breaker.
//   - ChromemStore embeds chromem-go in process, either in memory or persisted
//     to a directory. It needs no external service and backs the tests.
//
// Every record carries the payload fields content, source, page_number,
// chunk_index and category. All vectors written to a collection must share
// the collection's dimension; Upsert rejects a mismatch with
// ErrDimensionMismatch before anything is written.
package vectorstore
