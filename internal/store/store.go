package store

import (
	"errors"

	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

// DefaultDBPath is the default relative path of the run database. Open
// creates the parent directory.
const DefaultDBPath = ".opcua-browser/runs.db"

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Run is one discovery and labeling session.
type Run struct {
	ID         string `json:"id"`
	Endpoint   string `json:"endpoint"`
	RootNode   string `json:"root_node"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
	Dynamic    int    `json:"dynamic"`
	Mappings   int    `json:"mappings"`
	// EarlyTerminated is set when the operator closed the session before
	// every series was labeled.
	EarlyTerminated bool   `json:"early_terminated"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
}

// Finish is the outcome recorded by FinishRun.
type Finish struct {
	Status          string
	Candidates      int
	Dynamic         int
	Mappings        int
	EarlyTerminated bool
	Error           string
}

// Store persists runs with their sampled series and confirmed mappings.
// Implementations are SQLite (SqlStore) or in-memory (MemStore).
type Store interface {
	CreateRun(run *Run) (id string, err error)
	FinishRun(id string, f Finish) error
	GetRun(id string) (*Run, error)
	ListRuns() ([]*Run, error)

	SaveSeries(runID string, series []sample.Series) error
	ListSeries(runID string) ([]sample.Series, error)

	SaveMappings(runID string, mappings []label.Mapping) error
	ListMappings(runID string) ([]label.Mapping, error)

	Close() error
}
