package processors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

// Analyze summarizes tabular rows in place: group counts over one column
// and basic numeric stats over another. It exists so small datasets can be
// profiled without a round-trip through an external tool.
type Analyze struct {
	log logx.Logger
}

func NewAnalyze(log logx.Logger) *Analyze {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Analyze{log: log}
}

// Register installs the processor on the scheduler under TypeDataAnalyze.
func (a *Analyze) Register(s *jobs.Scheduler) {
	jobs.Register(s, TypeDataAnalyze, a.run)
}

type analyzePayload struct {
	Rows    []map[string]any `json:"rows"`
	GroupBy string           `json:"group_by,omitempty"`
	Field   string           `json:"field,omitempty"`
}

type fieldStats struct {
	Count   int     `json:"count"`
	Skipped int     `json:"skipped,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Avg     float64 `json:"avg"`
}

type analyzeResult struct {
	Rows   int            `json:"rows"`
	Groups map[string]int `json:"groups,omitempty"`
	Field  *fieldStats    `json:"field,omitempty"`
}

func (a *Analyze) run(ctx context.Context, job jobs.Job, p analyzePayload, progress jobs.ProgressFunc) (any, error) {
	if p.Rows == nil {
		return nil, jobs.NoRetry(errors.New("rows are required"))
	}
	if p.GroupBy == "" && p.Field == "" {
		return nil, jobs.NoRetry(errors.New("group_by or field is required"))
	}

	res := analyzeResult{Rows: len(p.Rows)}
	if p.GroupBy != "" {
		res.Groups = make(map[string]int)
	}
	var st fieldStats

	for i, row := range p.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.GroupBy != "" {
			res.Groups[groupKey(row[p.GroupBy])]++
		}
		if p.Field != "" {
			if v, ok := numeric(row[p.Field]); ok {
				if st.Count == 0 || v < st.Min {
					st.Min = v
				}
				if st.Count == 0 || v > st.Max {
					st.Max = v
				}
				st.Sum += v
				st.Count++
			} else {
				st.Skipped++
			}
		}
		if len(p.Rows) > 0 {
			progress((i + 1) * 100 / len(p.Rows))
		}
	}

	if p.Field != "" {
		if st.Count > 0 {
			st.Avg = st.Sum / float64(st.Count)
		}
		res.Field = &st
	}

	a.log.Debug("analysis finished",
		logx.String("job_id", job.ID),
		logx.Int("rows", res.Rows),
		logx.Int("groups", len(res.Groups)),
	)
	return res, nil
}

// groupKey renders a cell value as a stable map key. Missing cells group
// under the empty key.
func groupKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// numeric coerces a cell to float64. JSON numbers arrive as float64 already;
// numeric strings are parsed so CSV-sourced rows still aggregate.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// TopGroups returns group names sorted by descending count, ties broken by
// name, truncated to n. Helper for report-style consumers of analyzeResult.
func TopGroups(groups map[string]int, n int) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if groups[names[i]] != groups[names[j]] {
			return groups[names[i]] > groups[names[j]]
		}
		return names[i] < names[j]
	})
	if n > 0 && len(names) > n {
		names = names[:n]
	}
	return names
}
