package processors

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestReportCSVExplicitColumns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFilegen(FilegenConfig{Dir: dir}, logx.Nop())

	out, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), reportPayload{
		Name:    "leads",
		Columns: []string{"name", "score"},
		Rows: []map[string]any{
			{"name": "acme", "score": float64(2), "ignored": "x"},
			{"name": "globex", "score": 1.5},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	res, ok := out.(reportResult)
	if !ok {
		t.Fatalf("result type = %T", out)
	}
	if want := filepath.Join(dir, "leads.csv"); res.Path != want {
		t.Fatalf("path = %q, want %q", res.Path, want)
	}
	if res.Rows != 2 || res.Bytes <= 0 {
		t.Fatalf("result = %+v", res)
	}

	got := readCSV(t, res.Path)
	want := [][]string{
		{"name", "score"},
		{"acme", "2"},
		{"globex", "1.5"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("csv = %v, want %v", got, want)
	}
}

func TestReportCSVInferredColumns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFilegen(FilegenConfig{Dir: dir}, logx.Nop())

	out, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), reportPayload{
		Name: "mixed",
		Rows: []map[string]any{
			{"b": float64(1), "a": "x"},
			{"c": true},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := readCSV(t, out.(reportResult).Path)
	want := [][]string{
		{"a", "b", "c"},
		{"x", "1", ""},
		{"", "", "true"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("csv = %v, want %v", got, want)
	}
}

func TestReportJSONFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFilegen(FilegenConfig{Dir: dir}, logx.Nop())

	rows := []map[string]any{{"city": "oslo", "n": float64(4)}}
	out, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), reportPayload{
		Name:   "cities",
		Format: "json",
		Rows:   rows,
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	raw, err := os.ReadFile(out.(reportResult).Path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var back []map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if !reflect.DeepEqual(back, rows) {
		t.Fatalf("report = %v, want %v", back, rows)
	}
}

func TestReportReplacesPrevious(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFilegen(FilegenConfig{Dir: dir}, logx.Nop())

	first := reportPayload{Name: "daily", Columns: []string{"v"}, Rows: []map[string]any{{"v": "old"}}}
	if _, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), first, noProgress); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second := reportPayload{Name: "daily", Columns: []string{"v"}, Rows: []map[string]any{{"v": "new1"}, {"v": "new2"}}}
	out, err := f.run(context.Background(), activeJob("j2", TypeFileGenerate), second, noProgress)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	got := readCSV(t, out.(reportResult).Path)
	if len(got) != 3 || got[1][0] != "new1" || got[2][0] != "new2" {
		t.Fatalf("csv = %v, want the second report", got)
	}

	// The atomic write must not leave temp files behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "daily.csv" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir = %v, want only daily.csv", names)
	}
}

func TestReportValidation(t *testing.T) {
	t.Parallel()
	f := NewFilegen(FilegenConfig{Dir: t.TempDir()}, logx.Nop())

	cases := []struct {
		name    string
		payload reportPayload
		wantErr string
	}{
		{"empty name", reportPayload{Rows: []map[string]any{}}, "name is required"},
		{"path separator", reportPayload{Name: "a/b", Rows: []map[string]any{}}, "path separators"},
		{"dotdot", reportPayload{Name: "..", Rows: []map[string]any{}}, "path separators"},
		{"bad format", reportPayload{Name: "r", Format: "xlsx", Rows: []map[string]any{}}, "unknown report format"},
		{"nil rows", reportPayload{Name: "r"}, "rows are required"},
		{"uninferable columns", reportPayload{Name: "r", Rows: []map[string]any{}}, "cannot infer csv columns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), tc.payload, noProgress)
			if err == nil || !jobs.IsNoRetry(err) {
				t.Fatalf("err = %v, want no-retry", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestReportHeaderOnlyWithExplicitColumns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFilegen(FilegenConfig{Dir: dir}, logx.Nop())

	out, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), reportPayload{
		Name:    "empty",
		Columns: []string{"a", "b"},
		Rows:    []map[string]any{},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := readCSV(t, out.(reportResult).Path)
	if len(got) != 1 || !reflect.DeepEqual(got[0], []string{"a", "b"}) {
		t.Fatalf("csv = %v, want header only", got)
	}
}

func TestReportProgressReachesFull(t *testing.T) {
	t.Parallel()
	f := NewFilegen(FilegenConfig{Dir: t.TempDir()}, logx.Nop())

	var seen []int
	prog := func(pct int) { seen = append(seen, pct) }
	rows := make([]map[string]any, 4)
	for i := range rows {
		rows[i] = map[string]any{"i": float64(i)}
	}
	if _, err := f.run(context.Background(), activeJob("j1", TypeFileGenerate), reportPayload{Name: "p", Rows: rows}, prog); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(seen) == 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress = %v, want it to end at 100", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
}

func TestReportThroughScheduler(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := startScheduler(t)
	NewFilegen(FilegenConfig{Dir: dir}, logx.Nop()).Register(s)

	job, err := s.Enqueue(TypeFileGenerate, map[string]any{
		"name": "enriched",
		"rows": []map[string]any{{"lead": "acme", "score": 9}},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j := waitStatus(t, s, job.ID, jobs.StatusCompleted)

	res, ok := j.Result.(reportResult)
	if !ok {
		t.Fatalf("result type = %T", j.Result)
	}
	got := readCSV(t, res.Path)
	want := [][]string{{"lead", "score"}, {"acme", "9"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("csv = %v, want %v", got, want)
	}
}
