package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"robot-rag/internal/helper"
	"robot-rag/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store persists robots, documents, chunk vectors and conversation turns.
// Each write runs in its own transaction.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func now() time.Time {
	return time.Now().UTC()
}

func (s *Store) CreateRobot(ctx context.Context, name, description string) (*models.ChatRobot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("robot name is required")
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	row := &ChatRobot{ID: id, Name: name, Description: description, CreatedAt: now()}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create robot: %w", err)
	}
	return &models.ChatRobot{ID: row.ID, Name: row.Name, Description: row.Description}, nil
}

func (s *Store) ListRobots(ctx context.Context) ([]models.ChatRobot, error) {
	var rows []ChatRobot
	if err := s.db.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}
	robots := make([]models.ChatRobot, len(rows))
	for i, r := range rows {
		robots[i] = models.ChatRobot{ID: r.ID, Name: r.Name, Description: r.Description}
	}
	return robots, nil
}

// GetRobot returns ErrNotFound when no robot has the id.
func (s *Store) GetRobot(ctx context.Context, robotID string) (*models.ChatRobot, error) {
	row := new(ChatRobot)
	if err := s.db.NewSelect().Model(row).Where("id = ?", robotID).Scan(ctx); err != nil {
		return nil, notFound(err, "robot "+robotID)
	}
	return &models.ChatRobot{ID: row.ID, Name: row.Name, Description: row.Description}, nil
}

func (s *Store) GetRobotName(ctx context.Context, robotID string) (string, error) {
	var name string
	err := s.db.NewSelect().Model((*ChatRobot)(nil)).Column("name").Where("id = ?", robotID).Scan(ctx, &name)
	if err != nil {
		return "", notFound(err, "robot "+robotID)
	}
	return name, nil
}

// AddRobotDescription stores a persona description. Marking it as default
// clears the flag on the robot's other descriptions in the same transaction.
func (s *Store) AddRobotDescription(ctx context.Context, robotID, description string, isDefault bool) (*models.RobotDescription, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	row := &ChatRobotDescription{
		ID:          id,
		ChatRobotID: robotID,
		Description: description,
		IsDefault:   isDefault,
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*ChatRobot)(nil)).Where("id = ?", robotID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("robot %s: %w", robotID, ErrNotFound)
		}
		if isDefault {
			_, err := tx.NewUpdate().Model((*ChatRobotDescription)(nil)).
				Set("is_default = ?", false).
				Where("chat_robot_id = ?", robotID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		_, err = tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add robot description: %w", err)
	}
	return &models.RobotDescription{ID: row.ID, RobotID: robotID, Description: description, IsDefault: isDefault}, nil
}

// GetDefaultDescription returns the description flagged as default for the robot.
func (s *Store) GetDefaultDescription(ctx context.Context, robotID string) (string, error) {
	var description string
	err := s.db.NewSelect().Model((*ChatRobotDescription)(nil)).
		Column("description").
		Where("chat_robot_id = ?", robotID).
		Where("is_default = ?", true).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx, &description)
	if err != nil {
		return "", notFound(err, "default description for robot "+robotID)
	}
	return description, nil
}

func (s *Store) CreateUser(ctx context.Context, description string) (*models.User, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	row := &User{ID: id, Description: description, CreatedAt: now()}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &models.User{ID: row.ID, Description: row.Description}, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []User
	if err := s.db.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]models.User, len(rows))
	for i, u := range rows {
		users[i] = models.User{ID: u.ID, Description: u.Description}
	}
	return users, nil
}

// AddDocument creates the document row chunks are attached to.
func (s *Store) AddDocument(ctx context.Context, robotID, name string, docType models.DocumentType) (*models.Document, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	row := &Document{
		ID:           id,
		ChatRobotID:  robotID,
		Name:         name,
		DocumentType: int(docType),
		CreatedAt:    now(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to add document %s: %w", name, err)
	}
	return &models.Document{ID: row.ID, RobotID: robotID, Name: name, Type: docType}, nil
}

func chunkRow(documentID string, chunk models.Chunk) (*DocumentChunk, error) {
	id := chunk.ID
	if id == "" {
		var err error
		if id, err = helper.GenerateUUID(); err != nil {
			return nil, err
		}
	}
	return &DocumentChunk{
		ID:         id,
		DocumentID: documentID,
		Page:       chunk.Page,
		Ordinal:    chunk.Ordinal,
		Sequence:   chunk.Sequence,
		Content:    chunk.Content,
	}, nil
}

func vectorRow(chunkID string, v models.Vector, failed bool) *ChunkVector {
	return &ChunkVector{ChunkID: chunkID, Dims: len(v), Embedding: EncodeVector(v), Failed: failed}
}

func upsertVector(ctx context.Context, db bun.IDB, row *ChunkVector) error {
	_, err := db.NewInsert().Model(row).
		On("CONFLICT (chunk_id) DO UPDATE").
		Set("dims = EXCLUDED.dims").
		Set("embedding = EXCLUDED.embedding").
		Set("failed = EXCLUDED.failed").
		Exec(ctx)
	return err
}

// PutChunk inserts the chunk row without a vector and returns its id.
func (s *Store) PutChunk(ctx context.Context, documentID string, chunk models.Chunk) (string, error) {
	row, err := chunkRow(documentID, chunk)
	if err != nil {
		return "", err
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to put chunk: %w", err)
	}
	return row.ID, nil
}

// PutEmbedding stores or replaces the vector of a chunk.
func (s *Store) PutEmbedding(ctx context.Context, chunkID string, v models.Vector, failed bool) error {
	if err := upsertVector(ctx, s.db, vectorRow(chunkID, v, failed)); err != nil {
		return fmt.Errorf("failed to put embedding for chunk %s: %w", chunkID, err)
	}
	return nil
}

// SaveChunk stores a chunk and its vector together.
func (s *Store) SaveChunk(ctx context.Context, documentID string, chunk models.Chunk) (string, error) {
	row, err := chunkRow(documentID, chunk)
	if err != nil {
		return "", err
	}
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		return upsertVector(ctx, tx, vectorRow(row.ID, chunk.Embedding, chunk.EmbedFailed))
	})
	if err != nil {
		return "", fmt.Errorf("failed to save chunk: %w", err)
	}
	return row.ID, nil
}

// GetChunk returns a chunk with its vector, if one was stored.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	var row DocumentChunk
	if err := s.db.NewSelect().Model(&row).Where("id = ?", chunkID).Scan(ctx); err != nil {
		return nil, notFound(err, "chunk "+chunkID)
	}
	chunk := toChunk(row)

	var vec ChunkVector
	err := s.db.NewSelect().Model(&vec).Where("chunk_id = ?", chunkID).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load vector of chunk %s: %w", chunkID, err)
	default:
		if chunk.Embedding, err = DecodeVector(vec.Embedding); err != nil {
			return nil, err
		}
		chunk.EmbedFailed = vec.Failed
	}
	return &chunk, nil
}

func toChunk(row DocumentChunk) models.Chunk {
	return models.Chunk{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		Page:       row.Page,
		Ordinal:    row.Ordinal,
		Sequence:   row.Sequence,
		Content:    row.Content,
	}
}

// GetDocument returns the document with its chunks in sequence order.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var row Document
	if err := s.db.NewSelect().Model(&row).Where("id = ?", documentID).Scan(ctx); err != nil {
		return nil, notFound(err, "document "+documentID)
	}

	var chunks []DocumentChunk
	if err := s.db.NewSelect().Model(&chunks).Where("document_id = ?", documentID).OrderExpr("sequence ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load chunks of document %s: %w", documentID, err)
	}

	doc := &models.Document{ID: row.ID, RobotID: row.ChatRobotID, Name: row.Name, Type: models.DocumentType(row.DocumentType)}
	for _, c := range chunks {
		chunk := toChunk(c)
		chunk.Source = row.Name
		doc.Chunks = append(doc.Chunks, chunk)
	}
	return doc, nil
}

// DeleteDocument removes the document, its chunks and their vectors.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var chunkIDs []string
		err := tx.NewSelect().Model((*DocumentChunk)(nil)).Column("id").Where("document_id = ?", documentID).Scan(ctx, &chunkIDs)
		if err != nil {
			return fmt.Errorf("failed to list chunks of document %s: %w", documentID, err)
		}

		if len(chunkIDs) > 0 {
			if _, err := tx.NewDelete().Model((*ChunkVector)(nil)).Where("chunk_id IN (?)", bun.In(chunkIDs)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete vectors: %w", err)
			}
			if _, err := tx.NewDelete().Model((*DocumentChunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete chunks: %w", err)
			}
		}

		res, err := tx.NewDelete().Model((*Document)(nil)).Where("id = ?", documentID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		log.Debug().Str("document_id", documentID).Int("chunks", len(chunkIDs)).Msg("deleted document")
		return nil
	})
}

type candidateRow struct {
	ChunkID      string `bun:"chunk_id"`
	DocumentID   string `bun:"document_id"`
	DocumentName string `bun:"document_name"`
	Content      string `bun:"content"`
	Page         int    `bun:"page"`
	Ordinal      int    `bun:"ordinal"`
	Sequence     int    `bun:"sequence"`
	Embedding    []byte `bun:"embedding"`
	Failed       bool   `bun:"failed"`
}

// GetEmbeddingsForRobot lists every embedded chunk of the robot's documents,
// ordered by document id and then chunk sequence.
func (s *Store) GetEmbeddingsForRobot(ctx context.Context, robotID string) ([]models.ChunkEmbedding, error) {
	var rows []candidateRow
	err := s.db.NewSelect().
		TableExpr("document_chunks AS c").
		ColumnExpr("c.id AS chunk_id").
		ColumnExpr("c.document_id AS document_id").
		ColumnExpr("d.name AS document_name").
		ColumnExpr("c.content AS content").
		ColumnExpr("c.page AS page").
		ColumnExpr("c.ordinal AS ordinal").
		ColumnExpr("c.sequence AS sequence").
		ColumnExpr("v.embedding AS embedding").
		ColumnExpr("v.failed AS failed").
		Join("JOIN documents AS d ON d.id = c.document_id").
		Join("JOIN chunk_vectors AS v ON v.chunk_id = c.id").
		Where("d.chat_robot_id = ?", robotID).
		OrderExpr("d.id ASC, c.sequence ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings for robot %s: %w", robotID, err)
	}

	out := make([]models.ChunkEmbedding, 0, len(rows))
	for _, r := range rows {
		v, err := DecodeVector(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ChunkID, err)
		}
		out = append(out, models.ChunkEmbedding{
			ChunkID:      r.ChunkID,
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			Content:      r.Content,
			Page:         r.Page,
			Ordinal:      r.Ordinal,
			Sequence:     r.Sequence,
			Vector:       v,
			Failed:       r.Failed,
		})
	}
	return out, nil
}

// AddTurn appends a conversation turn. A zero timestamp is set to now.
func (s *Store) AddTurn(ctx context.Context, turn models.ConversationTurn) (*models.ConversationTurn, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now()
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	turn.ID = id
	row := &ChatHistory{
		ID:                 turn.ID,
		UserID:             turn.UserID,
		ChatRobotID:        turn.RobotID,
		Role:               string(turn.Role),
		Content:            turn.Content,
		MessageTime:        turn.Timestamp.UTC(),
		ReferencedChunkIDs: models.JoinChunkIDs(turn.ReferencedChunkIDs),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to add %s turn: %w", turn.Role, err)
	}
	return &turn, nil
}

// ListTurns returns the whole conversation between a user and a robot,
// oldest first.
func (s *Store) ListTurns(ctx context.Context, userID, robotID string) ([]models.ConversationTurn, error) {
	var rows []ChatHistory
	err := s.db.NewSelect().Model(&rows).
		Where("user_id = ?", userID).
		Where("chat_robot_id = ?", robotID).
		OrderExpr("message_time ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	turns := make([]models.ConversationTurn, len(rows))
	for i, r := range rows {
		turns[i] = models.ConversationTurn{
			ID:                 r.ID,
			UserID:             r.UserID,
			RobotID:            r.ChatRobotID,
			Role:               models.Role(r.Role),
			Content:            r.Content,
			Timestamp:          r.MessageTime,
			ReferencedChunkIDs: models.SplitChunkIDs(r.ReferencedChunkIDs),
		}
	}
	return turns, nil
}

// GetRecentUserTurns returns the content of the user's last limit questions
// to the robot, oldest first, with newlines flattened to spaces.
func (s *Store) GetRecentUserTurns(ctx context.Context, userID, robotID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var contents []string
	err := s.db.NewSelect().Model((*ChatHistory)(nil)).
		Column("content").
		Where("user_id = ?", userID).
		Where("chat_robot_id = ?", robotID).
		Where("role = ?", string(models.RoleUser)).
		OrderExpr("message_time DESC, id DESC").
		Limit(limit).
		Scan(ctx, &contents)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent turns: %w", err)
	}

	out := make([]string, len(contents))
	for i, c := range contents {
		c = strings.ReplaceAll(c, "\r\n", " ")
		out[len(contents)-1-i] = strings.ReplaceAll(c, "\n", " ")
	}
	return out, nil
}
