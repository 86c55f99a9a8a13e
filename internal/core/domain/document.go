package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
	StatusDeleted    DocumentStatus = "deleted"
)

// Document is the registry record of an indexed source.
type Document struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	ContentType  string         `json:"content_type,omitempty"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	StoredChunks int            `json:"stored_chunks"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type UploadedFile struct {
	FileURL  string `json:"file_url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}
