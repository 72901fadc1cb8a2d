package processors

import (
	"context"
	"math"
	"reflect"
	"testing"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

func TestAnalyzeGroups(t *testing.T) {
	t.Parallel()
	a := NewAnalyze(logx.Nop())

	out, err := a.run(context.Background(), activeJob("j1", TypeDataAnalyze), analyzePayload{
		GroupBy: "status",
		Rows: []map[string]any{
			{"status": "new"},
			{"status": "new"},
			{"status": "done"},
			{"other": 1},
			{"status": float64(7)},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	res, ok := out.(analyzeResult)
	if !ok {
		t.Fatalf("result type = %T", out)
	}
	if res.Rows != 5 {
		t.Fatalf("rows = %d, want 5", res.Rows)
	}
	want := map[string]int{"new": 2, "done": 1, "": 1, "7": 1}
	if !reflect.DeepEqual(res.Groups, want) {
		t.Fatalf("groups = %v, want %v", res.Groups, want)
	}
	if res.Field != nil {
		t.Fatalf("field stats = %+v, want none", res.Field)
	}
}

func TestAnalyzeFieldStats(t *testing.T) {
	t.Parallel()
	a := NewAnalyze(logx.Nop())

	out, err := a.run(context.Background(), activeJob("j1", TypeDataAnalyze), analyzePayload{
		Field: "score",
		Rows: []map[string]any{
			{"score": float64(10)},
			{"score": float64(20)},
			{"score": "30"},
			{"score": "oops"},
			{"other": 1},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	st := out.(analyzeResult).Field
	if st == nil {
		t.Fatal("field stats missing")
	}
	if st.Count != 3 || st.Skipped != 2 {
		t.Fatalf("count = %d skipped = %d, want 3 and 2", st.Count, st.Skipped)
	}
	if st.Min != 10 || st.Max != 30 || st.Sum != 60 {
		t.Fatalf("stats = %+v", st)
	}
	if math.Abs(st.Avg-20) > 1e-9 {
		t.Fatalf("avg = %v, want 20", st.Avg)
	}
}

func TestAnalyzeGroupAndFieldTogether(t *testing.T) {
	t.Parallel()
	a := NewAnalyze(logx.Nop())

	out, err := a.run(context.Background(), activeJob("j1", TypeDataAnalyze), analyzePayload{
		GroupBy: "region",
		Field:   "revenue",
		Rows: []map[string]any{
			{"region": "eu", "revenue": float64(5)},
			{"region": "eu", "revenue": float64(7)},
			{"region": "us", "revenue": float64(3)},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	res := out.(analyzeResult)
	if res.Groups["eu"] != 2 || res.Groups["us"] != 1 {
		t.Fatalf("groups = %v", res.Groups)
	}
	if res.Field == nil || res.Field.Sum != 15 || res.Field.Avg != 5 {
		t.Fatalf("field stats = %+v", res.Field)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	t.Parallel()
	a := NewAnalyze(logx.Nop())

	_, err := a.run(context.Background(), activeJob("j1", TypeDataAnalyze), analyzePayload{GroupBy: "x"}, noProgress)
	if err == nil || !jobs.IsNoRetry(err) {
		t.Fatalf("nil rows: err = %v, want no-retry", err)
	}

	_, err = a.run(context.Background(), activeJob("j2", TypeDataAnalyze), analyzePayload{Rows: []map[string]any{{"a": 1}}}, noProgress)
	if err == nil || !jobs.IsNoRetry(err) {
		t.Fatalf("no group_by or field: err = %v, want no-retry", err)
	}

	out, err := a.run(context.Background(), activeJob("j3", TypeDataAnalyze), analyzePayload{GroupBy: "x", Rows: []map[string]any{}}, noProgress)
	if err != nil {
		t.Fatalf("empty rows: %v", err)
	}
	if res := out.(analyzeResult); res.Rows != 0 || len(res.Groups) != 0 {
		t.Fatalf("empty rows result = %+v", res)
	}
}

func TestAnalyzeBoolCoercion(t *testing.T) {
	t.Parallel()
	a := NewAnalyze(logx.Nop())

	out, err := a.run(context.Background(), activeJob("j1", TypeDataAnalyze), analyzePayload{
		Field: "active",
		Rows: []map[string]any{
			{"active": true},
			{"active": false},
			{"active": true},
		},
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	st := out.(analyzeResult).Field
	if st.Count != 3 || st.Sum != 2 || st.Min != 0 || st.Max != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTopGroups(t *testing.T) {
	t.Parallel()

	groups := map[string]int{"beta": 3, "alpha": 3, "gamma": 1}
	if got := TopGroups(groups, 2); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Fatalf("top 2 = %v", got)
	}
	if got := TopGroups(groups, 0); !reflect.DeepEqual(got, []string{"alpha", "beta", "gamma"}) {
		t.Fatalf("all = %v", got)
	}
}

func TestAnalyzeThroughScheduler(t *testing.T) {
	t.Parallel()

	s := startScheduler(t)
	NewAnalyze(logx.Nop()).Register(s)

	job, err := s.Enqueue(TypeDataAnalyze, map[string]any{
		"group_by": "kind",
		"rows": []map[string]any{
			{"kind": "a"}, {"kind": "b"}, {"kind": "a"},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j := waitStatus(t, s, job.ID, jobs.StatusCompleted)

	res, ok := j.Result.(analyzeResult)
	if !ok {
		t.Fatalf("result type = %T", j.Result)
	}
	if res.Rows != 3 || res.Groups["a"] != 2 || res.Groups["b"] != 1 {
		t.Fatalf("result = %+v", res)
	}
	if j.Progress != 100 {
		t.Fatalf("progress = %d, want 100", j.Progress)
	}
}
