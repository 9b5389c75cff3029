package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// jobStatusView is the envelope for status and list responses. Image payloads
// stay out; the result endpoint serves those.
type jobStatusView struct {
	JobID                 string           `json:"job_id"`
	Kind                  string           `json:"kind"`
	State                 string           `json:"state"`
	CreatedAt             time.Time        `json:"created_at"`
	Worker                string           `json:"worker,omitempty"`
	SubmissionID          string           `json:"submission_id,omitempty"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty"`
	FinishedAt            *time.Time       `json:"finished_at,omitempty"`
	ProcessingTimeSeconds float64          `json:"processing_time_seconds,omitempty"`
	Error                 *domain.JobError `json:"error,omitempty"`
	StatusURL             string           `json:"status_url"`
	ResultURL             string           `json:"result_url,omitempty"`
}

func statusView(job *domain.Job) jobStatusView {
	view := jobStatusView{
		JobID:               job.ID,
		Kind:                job.Kind.String(),
		State:               job.State.String(),
		CreatedAt:           job.CreatedAt,
		Worker:              job.AssignedWorker,
		SubmissionID:        job.SubmissionID,
		ProcessingStartedAt: job.ProcessingStartedAt,
		FinishedAt:          job.FinishedAt,
		Error:               job.Error,
		StatusURL:           "/api/jobs/" + job.ID + "/status",
	}
	if duration := job.ProcessingDuration(); duration > 0 {
		view.ProcessingTimeSeconds = duration.Seconds()
	}
	if job.State == domain.JobStateCompleted {
		view.ResultURL = "/api/jobs/" + job.ID + "/result"
	}
	return view
}

func (a *Application) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusView(job))
}

// jobResultHandler serves the completed payload, or explains why it cannot:
// 409 while the job is still moving, 422 when it failed, 404 when unknown.
func (a *Application) jobResultHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookupJob(w, r)
	if !ok {
		return
	}

	switch job.State {
	case domain.JobStateCompleted:
		a.writeSyncOutcome(w, job)

	case domain.JobStateFailed:
		jobErr := job.Error
		if jobErr == nil {
			jobErr = domain.NewJobError(domain.ErrorKindInternal, "job failed without an error record", nil)
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Success: false,
			Error:   jobErr.Message,
			Kind:    string(jobErr.Kind),
			JobID:   job.ID,
			Details: jobErr.Details,
		})

	default:
		writeJSON(w, http.StatusConflict, errorResponse{
			Success: false,
			Error:   fmt.Sprintf("job is %s, result not ready", job.State),
			JobID:   job.ID,
		})
	}
}

func (a *Application) jobListHandler(w http.ResponseWriter, r *http.Request) {
	filter := domain.JobFilter{Worker: r.URL.Query().Get("worker")}

	if raw := r.URL.Query().Get("state"); raw != "" {
		state := domain.JobState(raw)
		switch state {
		case domain.JobStatePending, domain.JobStateProcessing, domain.JobStateCompleted, domain.JobStateFailed:
			filter.State = state
		default:
			writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
				fmt.Sprintf("unknown state %q", raw))
			return
		}
	}

	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := domain.JobKind(raw)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
				fmt.Sprintf("unknown job kind %q", raw))
			return
		}
		filter.Kind = kind
	}

	jobs, err := a.registry.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(domain.ErrorKindInternal), err.Error())
		return
	}

	views := make([]jobStatusView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, statusView(job))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"jobs":  views,
	})
}

// jobDeleteHandler removes the job record. Deleting an unknown id is fine;
// a processing job's execution keeps running but its result has nowhere to go.
func (a *Application) jobDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.registry.Delete(r.Context(), id) {
		a.logger.Debug("Job deleted", "job_id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) jobCleanupHandler(w http.ResponseWriter, r *http.Request) {
	removed := a.registry.Cleanup(r.Context())
	if removed > 0 {
		a.logger.InfoWithCount("Evicted terminal jobs", removed)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *Application) jobStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Stats(r.Context()))
}

// lookupJob resolves {id}; a false return means the 404 is already written.
func (a *Application) lookupJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id := r.PathValue("id")
	job, err := a.registry.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Success: false,
			Error:   "job not found",
			JobID:   id,
		})
		return nil, false
	}
	return job, true
}
