package journal

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrDisabled is returned for a driver this binary was built without.
	ErrDisabled      = errors.New("journal disabled")
	ErrClosed        = errors.New("journal closed")
	ErrUnknownDriver = errors.New("unknown journal driver")
)

// Config configures the journal.
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one journaled event. Keep it compact and schema-stable.
type Record struct {
	RunID      string    `json:"run_id"`
	Seq        uint64    `json:"seq"`
	At         time.Time `json:"at"`
	Type       string    `json:"type"`
	Worker     int       `json:"worker"`
	Task       uint64    `json:"task,omitempty"`
	QueueLen   int       `json:"queue_len,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store is the persistence API used by the Sink.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to limit records of runID, oldest first.
	Recent(ctx context.Context, runID string, limit int) ([]Record, error)
	Close() error
}

// NewRunID returns a lexically sortable, unique run identifier.
func NewRunID() string { return ulid.Make().String() }
