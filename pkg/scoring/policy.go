// Package scoring turns an error-rate sample into an entity's anomaly state
// using a fixed threshold, and renders the per-entity source query.
package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/signalguard/signalguard/pkg/storage"
)

// DefaultThreshold is the error rate above which an entity is flagged.
const DefaultThreshold = 0.2

// DefaultQueryTemplate selects the per-entity error rate over the window.
const DefaultQueryTemplate = `rate(app_request_errors_total{endpoint="{{.Entity}}"}[{{.Window}}])`

// Policy maps samples to entity states.
type Policy struct {
	// Threshold is compared against the raw sample. A threshold <= 0 still
	// flags any sample above it but yields a zero score.
	Threshold float64
}

// Evaluate derives the state for one sample:
// flag is 1 iff sample > Threshold, score is sample/Threshold when
// Threshold > 0 and 0 otherwise.
func (p Policy) Evaluate(sample float64) storage.EntityState {
	st := storage.EntityState{ErrorRate: sample}
	if sample > p.Threshold {
		st.Flag = 1
	}
	if p.Threshold > 0 {
		st.Score = sample / p.Threshold
	}
	return st
}

// Validate rejects thresholds that cannot be compared meaningfully.
func (p Policy) Validate() error {
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
		return fmt.Errorf("threshold must be finite, got %v", p.Threshold)
	}
	if p.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %v", p.Threshold)
	}
	return nil
}

// QueryTemplate renders the source query for an entity.
type QueryTemplate struct {
	raw  string
	tmpl *template.Template
}

type queryVars struct {
	Entity string
	Window string
}

// ParseQueryTemplate compiles tmpl. The template must reference {{.Entity}}
// so that each entity gets its own query.
func ParseQueryTemplate(tmpl string) (*QueryTemplate, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, errors.New("query template cannot be empty")
	}
	if !strings.Contains(tmpl, ".Entity") {
		return nil, errors.New("query template must reference {{.Entity}}")
	}
	t, err := template.New("query").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse query template: %w", err)
	}
	return &QueryTemplate{raw: tmpl, tmpl: t}, nil
}

// Render produces the query for entity over window.
func (q *QueryTemplate) Render(entity string, window time.Duration) (string, error) {
	var buf bytes.Buffer
	if err := q.tmpl.Execute(&buf, queryVars{Entity: entity, Window: FormatRange(window)}); err != nil {
		return "", fmt.Errorf("render query for %q: %w", entity, err)
	}
	return buf.String(), nil
}

// String returns the unparsed template.
func (q *QueryTemplate) String() string {
	return q.raw
}

// FormatRange formats d as a PromQL range selector duration, e.g. 5m or 90s.
func FormatRange(d time.Duration) string {
	if d <= 0 {
		d = 5 * time.Minute
	}
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
