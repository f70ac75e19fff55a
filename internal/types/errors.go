package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat indicates the uploaded document type is unknown.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrUnreadableDocument indicates a document of a known format that could
	// not be parsed, such as a truncated PDF or a corrupt DOCX.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrEmbeddingFailure indicates the embedding model could not process input.
	// It is fatal to the current ingestion or query.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrInvalidArgument indicates bad configuration or call arguments,
	// rejected before any work begins.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionNotFound indicates a chat for a session with no uploaded document.
	ErrSessionNotFound = errors.New("session not found")

	// ErrGeneration indicates the language model call failed.
	ErrGeneration = errors.New("generation failure")

	// ErrModelTimeout indicates a model call timed out twice in a row.
	ErrModelTimeout = errors.New("model call timed out")

	// ErrToolLoopExceeded indicates the model kept requesting tools past the
	// configured number of rounds.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")

	// ErrToolExecution is the parent of every tool failure. Tool failures are
	// reported back to the model instead of aborting the query.
	ErrToolExecution = errors.New("tool execution failure")
)

// Tool failures.
var (
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrToolExecution)
	ErrEmptyInput     = fmt.Errorf("%w: empty input", ErrToolExecution)
	ErrUnknownTool    = fmt.Errorf("%w: unknown tool", ErrToolExecution)
)
