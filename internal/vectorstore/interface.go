package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords is returned when an upsert carries no records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrDimensionMismatch is returned when a vector's length differs from the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Filter restricts a search to records whose payload fields equal the given
// values. A nil or empty Filter matches everything.
type Filter map[string]string

// CategoryFilter returns a Filter on the category field, or nil when category
// is empty.
func CategoryFilter(category string) Filter {
	if category == "" {
		return nil
	}
	return Filter{FieldCategory: category}
}

// Index is the vector index collaborator used by retrieval and ingestion.
type Index interface {
	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection for vectors of the given dimension
	// using cosine distance.
	CreateCollection(ctx context.Context, name string, dimension int) error

	// DeleteCollection drops a collection and every record in it. Deleting a
	// missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes records in a single batch.
	Upsert(ctx context.Context, name string, records []Record) error

	// Search returns at most k results ordered by descending similarity.
	Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Result, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
