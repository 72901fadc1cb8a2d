package processors

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

// FilegenConfig configures the file.generate processor.
type FilegenConfig struct {
	Dir string // output directory, default "./out"
}

func (c FilegenConfig) withDefaults() FilegenConfig {
	if strings.TrimSpace(c.Dir) == "" {
		c.Dir = "./out"
	}
	return c
}

// Filegen writes tabular reports as CSV or JSON files. A report with the
// same name replaces the previous one; files appear atomically via a
// temp-file rename.
type Filegen struct {
	cfg FilegenConfig
	log logx.Logger
}

func NewFilegen(cfg FilegenConfig, log logx.Logger) *Filegen {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Filegen{cfg: cfg.withDefaults(), log: log}
}

func (f *Filegen) Register(s *jobs.Scheduler) {
	jobs.Register(s, TypeFileGenerate, f.run)
}

type reportPayload struct {
	Name   string `json:"name"`             // base file name without extension
	Format string `json:"format,omitempty"` // "csv" (default) | "json"

	// Columns fixes the CSV column order; when empty the union of row
	// keys is used, sorted.
	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows"`
}

type reportResult struct {
	Path  string `json:"path"`
	Rows  int    `json:"rows"`
	Bytes int64  `json:"bytes"`
}

func (f *Filegen) run(ctx context.Context, job jobs.Job, p reportPayload, progress jobs.ProgressFunc) (any, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, jobs.NoRetry(errors.New("report name is required"))
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, jobs.NoRetry(fmt.Errorf("report name %q must not contain path separators", p.Name))
	}
	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		return nil, jobs.NoRetry(fmt.Errorf("unknown report format %q", p.Format))
	}
	if p.Rows == nil {
		return nil, jobs.NoRetry(errors.New("report rows are required"))
	}

	if err := os.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(f.cfg.Dir, name+"."+format)

	tmp, err := os.CreateTemp(f.cfg.Dir, name+".*.tmp")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	switch format {
	case "csv":
		err = writeCSV(tmp, p, progress)
	case "json":
		err = writeJSONReport(tmp, p, progress)
	}
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	progress(100)

	f.log.Debug("report written",
		logx.String("job_id", job.ID),
		logx.String("path", path),
		logx.Int("rows", len(p.Rows)),
	)
	return reportResult{Path: path, Rows: len(p.Rows), Bytes: info.Size()}, nil
}

func writeCSV(f *os.File, p reportPayload, progress jobs.ProgressFunc) error {
	cols := p.Columns
	if len(cols) == 0 {
		cols = inferColumns(p.Rows)
	}
	if len(cols) == 0 {
		return jobs.NoRetry(errors.New("cannot infer csv columns from empty rows"))
	}

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	rec := make([]string, len(cols))
	for i, row := range p.Rows {
		for j, col := range cols {
			rec[j] = cellString(row[col])
		}
		if err := w.Write(rec); err != nil {
			return err
		}
		reportRowProgress(progress, i+1, len(p.Rows))
	}
	w.Flush()
	return w.Error()
}

func writeJSONReport(f *os.File, p reportPayload, progress jobs.ProgressFunc) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p.Rows); err != nil {
		return err
	}
	reportRowProgress(progress, len(p.Rows), len(p.Rows))
	return nil
}

// reportRowProgress maps row completion onto the 10..90 band; the
// surrounding setup and rename own the ends.
func reportRowProgress(progress jobs.ProgressFunc, done, total int) {
	if total <= 0 {
		return
	}
	progress(10 + done*80/total)
}

func inferColumns(rows []map[string]any) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		// JSON numbers arrive as float64; print integers without the
		// trailing ".0" noise.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
