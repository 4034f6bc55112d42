// Package policy holds the static execution policy per job type. The same
// Table is read by admission (cost) and by the worker pool (attempts,
// backoff, concurrency, timeout, priority).
package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/convertcredits/backend/internal/models"
)

type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// MaxBackoff caps exponential delays.
const MaxBackoff = 10 * time.Minute

// ErrUnknownJobType is returned for job types missing from the table.
var ErrUnknownJobType = errors.New("unknown job type")

type Backoff struct {
	Strategy  Strategy      `yaml:"strategy" json:"strategy"`
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

type Policy struct {
	JobType          string           `yaml:"-" json:"job_type"`
	Family           models.JobFamily `yaml:"family" json:"family"`
	MaxAttempts      int              `yaml:"max_attempts" json:"max_attempts"`
	Backoff          Backoff          `yaml:"backoff" json:"backoff"`
	ConcurrencyLimit int              `yaml:"concurrency" json:"concurrency"`
	Timeout          time.Duration    `yaml:"timeout" json:"timeout"`
	CostInCredits    int64            `yaml:"cost" json:"cost"`
	// Priority orders work across types; lower runs first.
	Priority int `yaml:"priority" json:"priority"`
}

// Delay returns how long to wait before the attempt following attempt
// (1-based) failed.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff.Strategy != StrategyExponential {
		return p.Backoff.BaseDelay
	}
	d := p.Backoff.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// QueuePriority maps Priority onto the queue's 1..4 range.
func (p Policy) QueuePriority() int {
	switch {
	case p.Priority < 1:
		return 1
	case p.Priority > 4:
		return 4
	}
	return p.Priority
}

func (p Policy) validate() error {
	switch {
	case p.Family != models.FamilyDocument && p.Family != models.FamilyImage &&
		p.Family != models.FamilyMedia && p.Family != models.FamilyProject:
		return fmt.Errorf("%s: unknown family %q", p.JobType, p.Family)
	case p.MaxAttempts < 1:
		return fmt.Errorf("%s: max_attempts must be >= 1", p.JobType)
	case p.ConcurrencyLimit < 1:
		return fmt.Errorf("%s: concurrency must be >= 1", p.JobType)
	case p.Timeout <= 0:
		return fmt.Errorf("%s: timeout must be positive", p.JobType)
	case p.CostInCredits < 1:
		return fmt.Errorf("%s: cost must be >= 1", p.JobType)
	case p.Backoff.Strategy != StrategyFixed && p.Backoff.Strategy != StrategyExponential:
		return fmt.Errorf("%s: unknown backoff strategy %q", p.JobType, p.Backoff.Strategy)
	case p.Backoff.BaseDelay < 0:
		return fmt.Errorf("%s: negative base delay", p.JobType)
	}
	return nil
}

// Table is immutable after construction.
type Table struct {
	byType map[string]Policy
}

// NewTable validates policies and indexes them by job type.
func NewTable(policies ...Policy) (*Table, error) {
	t := &Table{byType: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if p.JobType == "" {
			return nil, errors.New("policy without job type")
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		t.byType[p.JobType] = p
	}
	return t, nil
}

// Lookup returns the policy for jobType or ErrUnknownJobType.
func (t *Table) Lookup(jobType string) (Policy, error) {
	p, ok := t.byType[jobType]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return p, nil
}

// All returns every policy ordered by priority, then job type.
func (t *Table) All() []Policy {
	out := make([]Policy, 0, len(t.byType))
	for _, p := range t.byType {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].JobType < out[j].JobType
	})
	return out
}

type fileFormat struct {
	JobTypes map[string]Policy `yaml:"job_types"`
}

// Load returns the built-in table, overridden by the YAML file at path when
// path is non-empty. Entries in the file replace built-in entries of the same
// job type field by field; zero fields keep the built-in value.
func Load(path string) (*Table, error) {
	base := Defaults()
	if path == "" {
		return NewTable(base...)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	merged := make(map[string]Policy, len(base)+len(f.JobTypes))
	for _, p := range base {
		merged[p.JobType] = p
	}
	for jobType, o := range f.JobTypes {
		p := merged[jobType]
		p.JobType = jobType
		if o.Family != "" {
			p.Family = o.Family
		}
		if o.MaxAttempts != 0 {
			p.MaxAttempts = o.MaxAttempts
		}
		if o.Backoff.Strategy != "" {
			p.Backoff.Strategy = o.Backoff.Strategy
		}
		if o.Backoff.BaseDelay != 0 {
			p.Backoff.BaseDelay = o.Backoff.BaseDelay
		}
		if o.ConcurrencyLimit != 0 {
			p.ConcurrencyLimit = o.ConcurrencyLimit
		}
		if o.Timeout != 0 {
			p.Timeout = o.Timeout
		}
		if o.CostInCredits != 0 {
			p.CostInCredits = o.CostInCredits
		}
		if o.Priority != 0 {
			p.Priority = o.Priority
		}
		merged[jobType] = p
	}
	list := make([]Policy, 0, len(merged))
	for _, p := range merged {
		list = append(list, p)
	}
	return NewTable(list...)
}
