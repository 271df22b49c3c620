package syncer

import (
	"time"

	"github.com/google/uuid"

	"icssync/internal/models"
)

// Counts tallies the operations of a cycle or of one source.
type Counts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Ambiguous int `json:"ambiguous"`
	Failed    int `json:"failed"`
}

func (c *Counts) count(kind models.OperationKind) {
	switch kind {
	case models.OpCreate:
		c.Created++
	case models.OpUpdate:
		c.Updated++
	case models.OpDelete:
		c.Deleted++
	case models.OpSkip:
		c.Skipped++
	}
}

func (c *Counts) add(o Counts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Deleted += o.Deleted
	c.Skipped += o.Skipped
	c.Ambiguous += o.Ambiguous
	c.Failed += o.Failed
}

// SourceReport is the outcome of one source within a cycle.
type SourceReport struct {
	Name string `json:"name"`
	Counts
	// Error is set when the source was abandoned.
	Error string `json:"error,omitempty"`
}

// Report is the outcome of a sync cycle.
type Report struct {
	CycleID   string        `json:"cycle_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Counts
	Sources []SourceReport `json:"sources"`
}

func newReport(start time.Time, dryRun bool) Report {
	return Report{CycleID: uuid.NewString(), StartedAt: start, DryRun: dryRun, Sources: []SourceReport{}}
}

func (r *Report) add(sr SourceReport) {
	r.Counts.add(sr.Counts)
	r.Sources = append(r.Sources, sr)
}

// Abandoned returns the names of the sources that could not be processed.
func (r *Report) Abandoned() []string {
	var names []string
	for _, s := range r.Sources {
		if s.Error != "" {
			names = append(names, s.Name)
		}
	}
	return names
}
