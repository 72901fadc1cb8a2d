package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"jobmill/internal/archive"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

type handler struct {
	deps Deps
	log  logx.Logger
}

type apiError struct {
	Message string `json:"message"`
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, apiError{Message: msg})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statsResp struct {
	Scheduler  jobs.Snapshot `json:"scheduler"`
	BusDropped uint64        `json:"bus_dropped"`
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	resp := statsResp{Scheduler: h.deps.Scheduler.Snapshot()}
	if h.deps.Bus != nil {
		resp.BusDropped = h.deps.Bus.Dropped()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type jobsResp struct {
	Count int        `json:"count"`
	Jobs  []jobs.Job `json:"jobs"`
}

func (h *handler) jobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}

	var statuses []jobs.Status
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		st := jobs.Status(strings.ToLower(v))
		switch st {
		case jobs.StatusDelayed, jobs.StatusWaiting, jobs.StatusActive, jobs.StatusCompleted, jobs.StatusFailed:
			statuses = append(statuses, st)
		default:
			h.writeError(w, http.StatusBadRequest, "unknown status: "+v)
			return
		}
	}

	list := h.deps.Scheduler.Jobs(statuses...)
	if typ := strings.TrimSpace(r.URL.Query().Get("type")); typ != "" {
		kept := list[:0]
		for _, j := range list {
			if j.Type == typ {
				kept = append(kept, j)
			}
		}
		list = kept
	}
	h.writeJSON(w, http.StatusOK, jobsResp{Count: len(list), Jobs: list})
}

func (h *handler) job(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	j, ok := h.deps.Scheduler.Job(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

func (h *handler) schedules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedules == nil {
		h.writeError(w, http.StatusNotFound, "schedules not configured")
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Schedules.Snapshot())
}

type archiveResp struct {
	Count   int              `json:"count"`
	Records []archive.Record `json:"records"`
}

func (h *handler) archive(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		h.writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > 256 {
		limit = 256
	}
	recs, err := h.deps.Archive.RecentRecords(r.Context(), limit)
	if err != nil {
		h.log.Warn("archive read failed", logx.Any("err", err))
		h.writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	h.writeJSON(w, http.StatusOK, archiveResp{Count: len(recs), Records: recs})
}

func (h *handler) alerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		h.writeError(w, http.StatusNotFound, "alerts not configured")
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Alerts.Snapshot())
}
