package domain

type SearchFilter struct {
	DocumentID string
}

type RetrievedChunk struct {
	ID            string  `json:"id"`
	DocumentID    string  `json:"document_id"`
	ChunkIndex    int     `json:"chunk_index"`
	Page          int     `json:"page,omitempty"`
	Source        string  `json:"source,omitempty"`
	DocumentType  string  `json:"document_type,omitempty"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score"`
	CombinedScore float64 `json:"combined_score"`
	RerankScore   float64 `json:"rerank_score,omitempty"`
}

type IndexStats struct {
	Collection  string `json:"collection"`
	Status      string `json:"status"`
	PointsCount int64  `json:"points_count"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
}
