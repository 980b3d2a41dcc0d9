package parser

import (
	"strings"

	"robot-rag/internal/models"
)

// ChunkWords splits text on whitespace and groups consecutive words into
// windows of wordsPerChunk words. The last window may be shorter. Joining the
// windows' words in order reproduces the original word sequence.
func ChunkWords(text string, wordsPerChunk int) []string {
	if wordsPerChunk <= 0 {
		wordsPerChunk = models.DefaultWordsPerChunk
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+wordsPerChunk-1)/wordsPerChunk)
	for start := 0; start < len(words); start += wordsPerChunk {
		end := min(start+wordsPerChunk, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// GetChunks chunks the text of one page and tags every chunk with its source,
// page and ordinal within the page.
func GetChunks(source string, page int, text string, wordsPerChunk int) []models.Chunk {
	var chunks []models.Chunk
	for i, content := range ChunkWords(text, wordsPerChunk) {
		chunks = append(chunks, models.Chunk{
			Source:  source,
			Page:    page,
			Ordinal: i,
			Content: content,
		})
	}
	return chunks
}

// AssignSequence numbers chunks by their position in the document.
func AssignSequence(chunks []models.Chunk) []models.Chunk {
	for i := range chunks {
		chunks[i].Sequence = i
	}
	return chunks
}
