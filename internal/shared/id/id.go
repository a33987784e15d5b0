// Package id provides centralized ID generation.
//
// Session and source identifiers are prefixed ULIDs: lexicographically
// sortable, unique across the process, and readable in logs (term_*, src_*).
// Request IDs for one-shot command executions are plain UUIDs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies a terminal session.
type SessionID string

// SourceID identifies one logical output stream (a log-streaming child).
type SourceID string

const (
	sessionPrefix = "term"
	sourcePrefix  = "src"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a terminal session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(sessionPrefix))
}

// NewSourceID generates a log stream source ID.
func NewSourceID() SourceID {
	return SourceID(Default().GenerateWithPrefix(sourcePrefix))
}

// NewRequestID generates a request ID for a one-shot command execution.
func NewRequestID() string {
	return uuid.NewString()
}

func (id SessionID) String() string { return string(id) }
func (id SourceID) String() string  { return string(id) }
