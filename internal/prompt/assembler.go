// Package prompt renders retrieved chunks into the user turn sent to the
// chat model.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	contextHeader = "Context from knowledge base:\n"
	contextFooter = "End of context.\n\n"
	withContext   = "Based on the provided context, answer the following question: "
	noContext     = "No specific context found. "
)

// Assembler formats context blocks. The zero value is ready to use.
type Assembler struct{}

// Assemble orders results by page then chunk index and renders the context
// block. ok is false when there are no results.
func (Assembler) Assemble(results []vectorstore.Result) (block string, ok bool) {
	if len(results) == 0 {
		return "", false
	}

	sorted := make([]vectorstore.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Record.Chunk, sorted[j].Record.Chunk
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	var sb strings.Builder
	sb.WriteString(contextHeader)
	for _, r := range sorted {
		c := r.Record.Chunk
		fmt.Fprintf(&sb, "- From '%s', Page %d, Chunk %d: %s\n", c.SourceID, c.PageNumber, c.ChunkIndex, c.Content)
	}
	sb.WriteString(contextFooter)
	return sb.String(), true
}

// UserTurn builds the augmented user message for query.
func (a Assembler) UserTurn(query string, results []vectorstore.Result) string {
	block, ok := a.Assemble(results)
	if !ok {
		return noContext + query
	}
	return block + withContext + query
}
