package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"jobmill/internal/alert"
	"jobmill/internal/archive"
	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	"jobmill/internal/schedule"
	logx "jobmill/pkg/logx"
)

func newPausedScheduler(t *testing.T) *jobs.Scheduler {
	t.Helper()
	s := jobs.New(jobs.Config{Concurrency: 1, PollInterval: 50 * time.Millisecond}, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	s.Pause()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func startOps(t *testing.T, cfg Config, deps Deps) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	svc := New(cfg, deps, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	waitAddr(t, svc)
	return svc
}

func waitAddr(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Addr() != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ops server did not bind")
}

func get(t *testing.T, url string, header map[string]string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b
}

func TestEndpoints(t *testing.T) {
	sched := newPausedScheduler(t)
	j1, err := sched.Enqueue("echo", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := sched.Enqueue("report", nil, jobs.WithPriority(5)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	st, err := archive.Open(archive.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "arch")}, logx.Nop())
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	defer st.Close()
	if err := st.AppendRecord(context.Background(), archive.Record{At: time.Now(), JobID: "old", Type: "echo", Status: "completed"}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	svc := startOps(t, Config{}, Deps{Scheduler: sched, Archive: st, Bus: eventbus.New()})
	base := "http://" + svc.Addr()

	status, body := get(t, base+"/healthz", nil)
	if status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", status, body)
	}

	status, body = get(t, base+"/api/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats = %d %s", status, body)
	}
	var stats statsResp
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("stats decode: %v (%s)", err, body)
	}
	if !stats.Scheduler.Paused || stats.Scheduler.Stats.Waiting != 2 {
		t.Fatalf("stats = %+v", stats.Scheduler)
	}

	status, body = get(t, base+"/api/jobs/", nil)
	var list jobsResp
	if status != http.StatusOK || json.Unmarshal(body, &list) != nil {
		t.Fatalf("jobs = %d %s", status, body)
	}
	if list.Count != 2 {
		t.Fatalf("job count = %d, want 2", list.Count)
	}

	status, body = get(t, base+"/api/jobs/?status=waiting&type=echo", nil)
	if status != http.StatusOK || json.Unmarshal(body, &list) != nil || list.Count != 1 {
		t.Fatalf("filtered jobs = %d %s", status, body)
	}
	if list.Jobs[0].ID != j1.ID {
		t.Fatalf("filtered job = %+v, want %s", list.Jobs[0], j1.ID)
	}

	status, _ = get(t, base+"/api/jobs/?status=bogus", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d, want 400", status)
	}

	status, body = get(t, base+"/api/jobs/"+j1.ID, nil)
	var detail jobs.Job
	if status != http.StatusOK || json.Unmarshal(body, &detail) != nil || detail.ID != j1.ID {
		t.Fatalf("job detail = %d %s", status, body)
	}

	status, body = get(t, base+"/api/jobs/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown job = %d %s", status, body)
	}
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Message != "job not found" {
		t.Fatalf("unknown job body = %s", body)
	}

	status, body = get(t, base+"/api/archive", nil)
	var arch archiveResp
	if status != http.StatusOK || json.Unmarshal(body, &arch) != nil || arch.Count != 1 {
		t.Fatalf("archive = %d %s", status, body)
	}
	status, _ = get(t, base+"/api/archive?limit=abc", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", status)
	}

	// Features that are off read as not found.
	status, _ = get(t, base+"/api/schedules", nil)
	if status != http.StatusNotFound {
		t.Fatalf("schedules without service = %d, want 404", status)
	}
	status, _ = get(t, base+"/api/alerts", nil)
	if status != http.StatusNotFound {
		t.Fatalf("alerts without service = %d, want 404", status)
	}
}

func TestFeatureSnapshotEndpoints(t *testing.T) {
	sched := newPausedScheduler(t)
	bus := eventbus.New()

	schedSvc := schedule.New(schedule.Config{Enabled: false}, sched, logx.Nop(), bus)
	alertSvc := alert.New(alert.Config{Enabled: false}, logx.Nop(), bus)

	svc := startOps(t, Config{}, Deps{Scheduler: sched, Schedules: schedSvc, Alerts: alertSvc, Bus: bus})
	base := "http://" + svc.Addr()

	status, body := get(t, base+"/api/schedules", nil)
	if status != http.StatusOK {
		t.Fatalf("schedules = %d %s", status, body)
	}
	var ss schedule.Snapshot
	if err := json.Unmarshal(body, &ss); err != nil || ss.Enabled || ss.Running {
		t.Fatalf("schedules snapshot = %s (err %v)", body, err)
	}

	status, body = get(t, base+"/api/alerts", nil)
	if status != http.StatusOK {
		t.Fatalf("alerts = %d %s", status, body)
	}
	var as alert.Snapshot
	if err := json.Unmarshal(body, &as); err != nil || as.Enabled {
		t.Fatalf("alerts snapshot = %s (err %v)", body, err)
	}
}

func TestTokenGuard(t *testing.T) {
	sched := newPausedScheduler(t)
	svc := startOps(t, Config{Token: "s3cret"}, Deps{Scheduler: sched})
	base := "http://" + svc.Addr()

	status, _ := get(t, base+"/healthz", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", status)
	}
	status, _ = get(t, base+"/healthz", map[string]string{"Authorization": "Bearer s3cret"})
	if status != http.StatusOK {
		t.Fatalf("bearer token = %d, want 200", status)
	}
	status, _ = get(t, base+"/healthz?token=s3cret", nil)
	if status != http.StatusOK {
		t.Fatalf("query token = %d, want 200", status)
	}
	status, _ = get(t, base+"/healthz?token=wrong", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", status)
	}
}

func TestInsecureBindRefused(t *testing.T) {
	sched := newPausedScheduler(t)
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{Scheduler: sched}, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	time.Sleep(200 * time.Millisecond)
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("server bound %s despite insecure config", addr)
	}
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		// Avoid leaking profiling knobs across tests.
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	sched := newPausedScheduler(t)
	svc := New(Config{Enabled: false}, Deps{Scheduler: sched}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.Start(ctx)
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("disabled server bound %s", addr)
	}

	svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7, BlockProfileRate: 1})
	waitAddr(t, svc)
	status, _ := get(t, "http://"+svc.Addr()+"/healthz", nil)
	if status != http.StatusOK {
		t.Fatalf("healthz after enable = %d", status)
	}
	if got := runtime.SetMutexProfileFraction(-1); got != 7 {
		t.Fatalf("mutex profile fraction = %d, want 7", got)
	}

	svc.Reconfigure(ctx, Config{Enabled: false})
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("server still bound at %s after disable", addr)
	}
}

func TestPprofMountToggle(t *testing.T) {
	sched := newPausedScheduler(t)

	svc := startOps(t, Config{Pprof: true}, Deps{Scheduler: sched})
	status, _ := get(t, "http://"+svc.Addr()+"/debug/pprof/", nil)
	if status != http.StatusOK {
		t.Fatalf("pprof index = %d, want 200", status)
	}

	svcOff := startOps(t, Config{Pprof: false}, Deps{Scheduler: sched})
	status, _ = get(t, "http://"+svcOff.Addr()+"/debug/pprof/", nil)
	if status != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", status)
	}
}
