package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"

	"github.com/go-chi/chi/v5"
)

// Runner runs one worker invocation. *jobs.Worker satisfies it.
type Runner interface {
	RunOnce(ctx context.Context) (*jobs.Job, error)
}

type JobsHandler struct {
	Repo   *jobs.Repo
	Worker Runner
}

type jobDetail struct {
	*jobs.Job
	Files  []jobs.FileRecord `json:"files"`
	Result *jobs.Result      `json:"result,omitempty"`
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.ListFilter{}
	if s := q.Get("status"); s != "" {
		st, ok := jobs.ParseStatus(s)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Status = st
	}
	if s := q.Get("item_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid item_id", http.StatusBadRequest)
			return
		}
		f.ItemID = id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	list, err := h.Repo.List(r.Context(), f)
	if err != nil {
		logger.WithError(err).Error("jobs.list failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := h.Repo.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	files, err := h.Repo.Files(ctx, job.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	res, err := h.Repo.GetResult(ctx, job.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []jobs.FileRecord{}
	}
	writeJSON(w, http.StatusOK, jobDetail{Job: job, Files: files, Result: res})
}

func (h *JobsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	job, err := h.Repo.Requeue(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrNotTerminal):
		http.Error(w, "job is still active", http.StatusConflict)
		return
	case err != nil:
		logger.WithError(err).Error("jobs.requeue failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "id": job.ID})
}

// RunWorker processes at most one queued job synchronously.
func (h *JobsHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	job, err := h.Worker.RunOnce(r.Context())
	if err != nil {
		logger.WithError(err).Error("worker.run failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if job == nil {
		writeText(w, http.StatusOK, "no queued jobs")
		return
	}
	out := map[string]any{"id": job.ID, "item_id": job.SourceItemID, "status": job.Status}
	if job.Error != nil {
		out["error"] = *job.Error
	}
	writeJSON(w, http.StatusOK, out)
}
