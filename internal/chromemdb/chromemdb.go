// Package chromemdb exports a robot's embedded chunks to a portable
// chromem-go collection file and queries such snapshots offline.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"robot-rag/internal/models"
)

const (
	metaRobotID      = "robot_id"
	collectionPrefix = "robot-"
	metaRobotName    = "robot_name"
	metaDocumentID   = "document_id"
	metaDocumentName = "document_name"
	metaPage         = "page"
	metaOrdinal      = "ordinal"
	metaSequence     = "sequence"
)

var ErrEmptySnapshot = errors.New("snapshot has no chunks")

// Source lists the chunks to export.
type Source interface {
	GetEmbeddingsForRobot(ctx context.Context, robotID string) ([]models.ChunkEmbedding, error)
	GetRobotName(ctx context.Context, robotID string) (string, error)
}

// ExportOptions controls the snapshot file. EncryptionKey, when set, must be
// 32 bytes long.
type ExportOptions struct {
	Compress      bool
	EncryptionKey string
}

// ExportRobot writes the robot's chunks to filePath and returns how many
// were exported. Chunks whose embedding failed, or whose dimension differs
// from the first exported chunk, are left out.
func ExportRobot(ctx context.Context, src Source, robotID, filePath string, opts ExportOptions) (int, error) {
	robotName, err := src.GetRobotName(ctx, robotID)
	if err != nil {
		return 0, err
	}
	candidates, err := src.GetEmbeddingsForRobot(ctx, robotID)
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(candidates))
	dims := 0
	for _, c := range candidates {
		if c.Failed || len(c.Vector) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(c.Vector)
		}
		if len(c.Vector) != dims {
			log.Warn().Str("chunk_id", c.ChunkID).Int("dims", len(c.Vector)).Int("expected", dims).Msg("Skipping chunk with mismatched dimension")
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      c.ChunkID,
			Content: c.Content,
			Metadata: map[string]string{
				metaRobotName:    robotName,
				metaDocumentID:   c.DocumentID,
				metaDocumentName: c.DocumentName,
				metaPage:         strconv.Itoa(c.Page),
				metaOrdinal:      strconv.Itoa(c.Ordinal),
				metaSequence:     strconv.Itoa(c.Sequence),
			},
			// chromem normalizes in place
			Embedding: append([]float32(nil), c.Vector...),
		})
	}
	if len(docs) == 0 {
		return 0, ErrEmptySnapshot
	}

	db := chromem.NewDB()
	name := collectionName(robotID)
	collection, err := db.CreateCollection(name, map[string]string{metaRobotID: robotID, metaRobotName: robotName}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}
	if err := db.ExportToFile(filePath, opts.Compress, opts.EncryptionKey, name); err != nil {
		return 0, fmt.Errorf("failed to export collection: %w", err)
	}

	log.Info().Str("robot", robotName).Int("chunks", len(docs)).Str("file", filePath).Msg("Exported snapshot")
	return len(docs), nil
}

func collectionName(robotID string) string {
	return collectionPrefix + robotID
}

// Snapshot is a robot collection loaded from an exported file.
type Snapshot struct {
	RobotID    string
	collection *chromem.Collection
}

// OpenSnapshot imports a file written by ExportRobot.
func OpenSnapshot(filePath, encryptionKey string) (*Snapshot, error) {
	db := chromem.NewDB()
	if err := db.ImportFromFile(filePath, encryptionKey); err != nil {
		return nil, fmt.Errorf("failed to import snapshot: %w", err)
	}

	collections := db.ListCollections()
	if len(collections) != 1 {
		return nil, fmt.Errorf("snapshot must hold exactly one collection, found %d", len(collections))
	}
	for name, c := range collections {
		return &Snapshot{RobotID: strings.TrimPrefix(name, collectionPrefix), collection: c}, nil
	}
	return nil, ErrEmptySnapshot
}

func (s *Snapshot) Count() int {
	return s.collection.Count()
}

// Query returns up to n chunks closest to query, highest similarity first.
func (s *Snapshot) Query(ctx context.Context, query models.Vector, n int) ([]models.SimilarContent, error) {
	if n > s.collection.Count() {
		n = s.collection.Count()
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, append([]float32(nil), query...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	out := make([]models.SimilarContent, len(results))
	for i, r := range results {
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		ordinal, _ := strconv.Atoi(r.Metadata[metaOrdinal])
		sequence, _ := strconv.Atoi(r.Metadata[metaSequence])
		out[i] = models.SimilarContent{
			ChunkID:      r.ID,
			DocumentName: r.Metadata[metaDocumentName],
			RobotName:    r.Metadata[metaRobotName],
			Content:      r.Content,
			Page:         page,
			Ordinal:      ordinal,
			Sequence:     sequence,
			Score:        float64(r.Similarity),
		}
	}
	return out, nil
}
