package ledger

import (
	"context"
	"time"
)

// Status is the final state of one acquisition.
type Status string

const (
	StatusConverted Status = "converted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Record is one ledger row.
type Record struct {
	ID        int64
	RunID     string
	Subject   string
	Session   string
	Source    string
	Datatype  string
	Suffix    string
	Status    Status
	Outputs   []string
	Error     string
	CreatedAt time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	RunID   string
	Subject string
	Session string
	Status  Status
	Limit   int
}

// Recorder is the write side used by the coiner.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}
