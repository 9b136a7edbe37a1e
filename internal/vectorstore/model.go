// Package vectorstore implements Stratum's vector store adapter (C5)
// over Qdrant, storing and searching VectorPoints keyed by the payload
// fields in §6.5.
package vectorstore

// SearchResult is a single k-NN hit, with score and the subset of payload
// fields the RAG engine needs before hydration from the columnar store.
type SearchResult struct {
	ID            string
	Score         float32
	Service       string
	Level         string
	Message       string
	TimestampSecs int64
	TraceID       string
}

// Filter is a conjunction over payload fields (§4.6). Zero values are
// treated as "no constraint" for that field.
type Filter struct {
	Service       string
	Level         string
	TimestampFrom int64 // unix seconds, inclusive; 0 = unbounded
	TimestampTo   int64 // unix seconds, inclusive; 0 = unbounded
}

func (f Filter) isZero() bool {
	return f.Service == "" && f.Level == "" && f.TimestampFrom == 0 && f.TimestampTo == 0
}
