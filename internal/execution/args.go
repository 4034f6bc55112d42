package execution

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/convertcredits/backend/internal/policy"
)

// ConvertArgs is the queue payload. Only JobID and Round take part in the
// uniqueness check, so a resubmission of the same round collapses into the
// live queue job while a reprocessed job (next round) gets a fresh one.
type ConvertArgs struct {
	JobID   uuid.UUID `json:"job_id" river:"unique"`
	JobType string    `json:"job_type"`
	Round   int       `json:"round" river:"unique"`
}

func (ConvertArgs) Kind() string { return "convert" }

// InsertOpts derives queue, priority and attempt budget from the job type's policy.
func InsertOpts(p policy.Policy) *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       p.JobType,
		Priority:    p.QueuePriority(),
		MaxAttempts: p.MaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
		Tags:        []string{string(p.Family)},
	}
}

// QueueConfigs returns one River queue per job type, bounded by its concurrency limit.
func QueueConfigs(t *policy.Table) map[string]river.QueueConfig {
	out := make(map[string]river.QueueConfig)
	for _, p := range t.All() {
		out[p.JobType] = river.QueueConfig{MaxWorkers: p.ConcurrencyLimit}
	}
	return out
}
