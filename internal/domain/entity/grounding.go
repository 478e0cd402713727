package entity

// GroundingSource is one web citation attached by the model.
type GroundingSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// GroundingResult is a snapshot of the citations and search queries the
// model reported while answering.
type GroundingResult struct {
	Sources       []GroundingSource `json:"sources,omitempty"`
	SearchQueries []string          `json:"search_queries,omitempty"`
}

// IsEmpty reports whether the snapshot carries neither sources nor queries.
func (g *GroundingResult) IsEmpty() bool {
	return g == nil || (len(g.Sources) == 0 && len(g.SearchQueries) == 0)
}

// Metadata converts the snapshot into the stored message metadata, keeping
// only the non-empty keys. It returns nil for an empty snapshot.
func (g *GroundingResult) Metadata() *MessageMetadata {
	if g.IsEmpty() {
		return nil
	}
	return &MessageMetadata{
		GroundingSources: g.Sources,
		SearchQueries:    g.SearchQueries,
	}
}
