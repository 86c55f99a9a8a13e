package domain

// ChunkMetadata describes where a chunk came from. Page is 1-based; 0 means unknown.
type ChunkMetadata struct {
	Source          string `json:"source"`
	DocumentID      string `json:"document_id,omitempty"`
	DocumentType    string `json:"document_type"`
	Page            int    `json:"page,omitempty"`
	TotalPages      int    `json:"total_pages,omitempty"`
	TotalParagraphs int    `json:"total_paragraphs,omitempty"`
	ChunkIndex      int    `json:"chunk_index"`
	ChunkSize       int    `json:"chunk_size"`
	ParagraphCount  int    `json:"paragraph_count"`
}

type DocumentChunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// TextSegment is one unit of extracted text, a page for paginated formats.
type TextSegment struct {
	Text string
	Page int
}

type ExtractedText struct {
	DocumentType    string
	Segments        []TextSegment
	TotalPages      int
	TotalParagraphs int
}

type FetchedDocument struct {
	Source      string
	Filename    string
	ContentType string
	Data        []byte
}
