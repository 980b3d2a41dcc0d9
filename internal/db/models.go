package db

import (
	"time"

	"github.com/uptrace/bun"
)

type ChatRobot struct {
	bun.BaseModel `bun:"table:chat_robots,alias:cr"`
	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name,notnull"`
	Description   string    `bun:"description"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type ChatRobotDescription struct {
	bun.BaseModel `bun:"table:chat_robot_descriptions,alias:crd"`
	ID            string `bun:"id,pk"`
	ChatRobotID   string `bun:"chat_robot_id,notnull"`
	Description   string `bun:"description,notnull"`
	IsDefault     bool   `bun:"is_default,notnull"`
}

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	ID            string    `bun:"id,pk"`
	Description   string    `bun:"description,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string    `bun:"id,pk"`
	ChatRobotID   string    `bun:"chat_robot_id,notnull"`
	Name          string    `bun:"name,notnull"`
	DocumentType  int       `bun:"document_type,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type DocumentChunk struct {
	bun.BaseModel `bun:"table:document_chunks,alias:dc"`
	ID            string `bun:"id,pk"`
	DocumentID    string `bun:"document_id,notnull"`
	Page          int    `bun:"page,notnull"`
	Ordinal       int    `bun:"ordinal,notnull"`
	Sequence      int    `bun:"sequence,notnull"`
	Content       string `bun:"content,notnull"`
}

// ChunkVector stores an embedding packed as little-endian float32 values.
type ChunkVector struct {
	bun.BaseModel `bun:"table:chunk_vectors,alias:cv"`
	ChunkID       string `bun:"chunk_id,pk"`
	Dims          int    `bun:"dims,notnull"`
	Embedding     []byte `bun:"embedding,notnull"`
	Failed        bool   `bun:"failed,notnull"`
}

type ChatHistory struct {
	bun.BaseModel      `bun:"table:chat_history,alias:ch"`
	ID                 string    `bun:"id,pk"`
	UserID             string    `bun:"user_id,notnull"`
	ChatRobotID        string    `bun:"chat_robot_id,notnull"`
	Role               string    `bun:"role,notnull"`
	Content            string    `bun:"content,notnull"`
	MessageTime        time.Time `bun:"message_time,notnull"`
	ReferencedChunkIDs string    `bun:"referenced_chunk_ids,notnull"`
}
