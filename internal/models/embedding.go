package models

// Vector is an ordered embedding. Its length is fixed once computed by a provider.
type Vector []float32

// FailedVector is the placeholder stored for a chunk whose embedding call failed.
// It has length 1 so it never matches a real provider dimensionality.
func FailedVector() Vector {
	return Vector{0}
}

// DocumentType identifies where a document's text came from.
type DocumentType int

const (
	DocumentTypePDF DocumentType = iota
	DocumentTypeText
	DocumentTypeWebPage
	DocumentTypeOffice
)

func (t DocumentType) String() string {
	switch t {
	case DocumentTypePDF:
		return "pdf"
	case DocumentTypeText:
		return "text"
	case DocumentTypeWebPage:
		return "webpage"
	case DocumentTypeOffice:
		return "office"
	default:
		return "unknown"
	}
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID          string `json:"id,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	Source      string `json:"source"`
	Page        int    `json:"page"`
	Ordinal     int    `json:"ordinal"`
	Sequence    int    `json:"sequence"`
	Content     string `json:"content"`
	Embedding   Vector `json:"-"`
	EmbedFailed bool   `json:"embed_failed,omitempty"`
}

// Document groups the chunks extracted from one file or web page.
type Document struct {
	ID      string       `json:"id"`
	RobotID string       `json:"robot_id"`
	Name    string       `json:"name"`
	Type    DocumentType `json:"type"`
	Chunks  []Chunk      `json:"chunks,omitempty"`
}

// ChunkEmbedding is one search candidate: a stored chunk with its vector.
type ChunkEmbedding struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Content      string
	Page         int
	Ordinal      int
	Sequence     int
	Vector       Vector
	Failed       bool
}

// SimilarContent is a ranked search hit.
type SimilarContent struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentName string  `json:"document_name"`
	RobotName    string  `json:"robot_name,omitempty"`
	Content      string  `json:"content"`
	Page         int     `json:"page"`
	Ordinal      int     `json:"ordinal"`
	Sequence     int     `json:"sequence"`
	Score        float64 `json:"score"`
}
