package models

const (
	ChunkIDSeparator     = ";"
	DefaultWordsPerChunk = 600
	DefaultTopK          = 3
	DefaultHistoryTurns  = 10
	DefaultApology       = "Sorry, something went wrong. Please try again later."
)
