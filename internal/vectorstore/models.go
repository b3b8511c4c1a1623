package vectorstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Payload field names shared by every backend.
const (
	FieldContent    = "content"
	FieldSource     = "source"
	FieldPageNumber = "page_number"
	FieldChunkIndex = "chunk_index"
	FieldCategory   = "category"
)

// Chunk is a bounded span of a source document's text.
type Chunk struct {
	Content    string `json:"content"`
	SourceID   string `json:"source"`
	PageNumber int    `json:"page_number"`
	ChunkIndex int    `json:"chunk_index"`
	Category   string `json:"category"`
}

// Record is a Chunk stored in an index together with its embedding.
type Record struct {
	Chunk
	ID        uuid.UUID `json:"id"`
	Embedding []float32 `json:"-"`
}

// NewRecord assigns a fresh ID to an embedded chunk.
func NewRecord(c Chunk, embedding []float32) Record {
	return Record{Chunk: c, ID: uuid.New(), Embedding: embedding}
}

// Result is a single search hit.
type Result struct {
	Record Record  `json:"record"`
	Score  float32 `json:"score"`
}

// IsBlank reports whether the result carries no usable text.
func (r Result) IsBlank() bool {
	return strings.TrimSpace(r.Record.Content) == ""
}

// validateRecords checks that the batch is non-empty and that every vector has
// the expected dimension.
func validateRecords(records []Record, dimension int) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	for i, r := range records {
		if r.ID == uuid.Nil {
			return fmt.Errorf("record %d: missing id", i)
		}
		if len(r.Embedding) != dimension {
			return fmt.Errorf("%w: record %d (source %q, page %d, chunk %d) has %d, want %d",
				ErrDimensionMismatch, i, r.SourceID, r.PageNumber, r.ChunkIndex, len(r.Embedding), dimension)
		}
	}
	return nil
}
