package models

import "time"

// Checkpoint is the durable snapshot of one session, keyed by thread id.
// Snapshot and metadata are opaque to the backend: the backend never
// interprets session-state fields, which keeps redis, postgres and memory
// backends interchangeable.
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	Snapshot  []byte            `json:"snapshot"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   map[string]int    `json:"version,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}
