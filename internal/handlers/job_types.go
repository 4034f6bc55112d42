package handlers

import (
	"net/http"

	"github.com/convertcredits/backend/internal/policy"
)

type jobTypeInfo struct {
	JobType          string `json:"job_type"`
	Family           string `json:"family"`
	CostInCredits    int64  `json:"cost"`
	MaxAttempts      int    `json:"max_attempts"`
	Backoff          string `json:"backoff"`
	BackoffBaseMs    int64  `json:"backoff_base_ms"`
	ConcurrencyLimit int    `json:"concurrency"`
	TimeoutMs        int64  `json:"timeout_ms"`
	Priority         int    `json:"priority"`
}

// JobTypes handles GET /v1/job-types (public, no auth).
func JobTypes(table *policy.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		all := table.All()
		out := make([]jobTypeInfo, 0, len(all))
		for _, p := range all {
			out = append(out, jobTypeInfo{
				JobType:          p.JobType,
				Family:           string(p.Family),
				CostInCredits:    p.CostInCredits,
				MaxAttempts:      p.MaxAttempts,
				Backoff:          string(p.Backoff.Strategy),
				BackoffBaseMs:    p.Backoff.BaseDelay.Milliseconds(),
				ConcurrencyLimit: p.ConcurrencyLimit,
				TimeoutMs:        p.Timeout.Milliseconds(),
				Priority:         p.Priority,
			})
		}
		WriteJSON(w, http.StatusOK, out)
	}
}
