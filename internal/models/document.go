package models

import "time"

// Document is an uploaded file after text extraction.
type Document struct {
	ID       string
	Name     string
	Format   string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a bounded span of a document with the structural metadata of the
// section it was cut from. Chunks are never modified after the processor
// creates them.
type Chunk struct {
	Text     string
	Metadata map[string]string
	SourceID string
}

// Message roles stored in a session history.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    string
	Content string
	Time    time.Time
}
