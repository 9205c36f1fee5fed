package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one line of the retrieval audit log.
type QueryLogEntry struct {
	Timestamp         time.Time        `json:"timestamp"`
	TraceID           string           `json:"trace_id"`
	Query             string           `json:"query"`
	Tier              SourceSignal     `json:"tier,omitempty"`
	NumCandidates     int              `json:"num_candidates"`
	NumResults        int              `json:"num_results"`
	ChunkIDs          []int64          `json:"chunk_ids,omitempty"`
	UpdatedEmbeddings int              `json:"updated_embeddings"`
	Conditions        []Condition      `json:"conditions,omitempty"`
	PhasesMs          map[string]int64 `json:"phases_ms,omitempty"`
	Duration          time.Duration    `json:"-"`
	LatencyMs         int64            `json:"latency_ms"`
}

// QueryLogger appends one JSON line per retrieval; safe for concurrent use.
type QueryLogger struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w)}
}

// NewFileQueryLogger appends to path and mirrors every line to stdout.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, err
	}
	return NewQueryLogger(io.MultiWriter(os.Stdout, f)), nil
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	err := l.enc.Encode(entry)
	l.mu.Unlock()
	if err != nil {
		slog.Warn("query log write failed", "trace_id", entry.TraceID, "error", err)
	}
}
