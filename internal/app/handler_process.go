package app

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// maxMultipartMemory is the in-memory threshold for multipart parsing; larger
// uploads spill to temp files. The hard cap is the MaxBytesReader wrapper.
const maxMultipartMemory = 32 << 20

// syncRecheckInterval guards synchronous waits against dropped bus events by
// re-reading authoritative registry state.
const syncRecheckInterval = 500 * time.Millisecond

type processResponse struct {
	Success               bool    `json:"success"`
	JobID                 string  `json:"job_id"`
	Image                 string  `json:"image"`
	ContentType           string  `json:"content_type"`
	Filename              string  `json:"filename"`
	SubmissionID          string  `json:"submission_id"`
	Worker                string  `json:"worker"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

type asyncAcceptedResponse struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	StatusURL string `json:"status_url"`
	ResultURL string `json:"result_url"`
}

func (a *Application) removeBackgroundHandler(w http.ResponseWriter, r *http.Request) {
	a.handleProcess(w, r, domain.JobKindRemoveBackground)
}

func (a *Application) upscaleImageHandler(w http.ResponseWriter, r *http.Request) {
	a.handleProcess(w, r, domain.JobKindUpscaleImage)
}

func (a *Application) upscaleRemoveBGHandler(w http.ResponseWriter, r *http.Request) {
	a.handleProcess(w, r, domain.JobKindUpscaleRemoveBG)
}

// asyncSubmitHandler accepts any job kind by path and always replies 202.
func (a *Application) asyncSubmitHandler(w http.ResponseWriter, r *http.Request) {
	kind := domain.JobKind(r.PathValue("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
			fmt.Sprintf("unknown job kind %q", r.PathValue("kind")))
		return
	}

	input, ok := a.parseJobInput(w, r)
	if !ok {
		return
	}
	a.submitAsync(w, r, kind, input)
}

func (a *Application) handleProcess(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	input, ok := a.parseJobInput(w, r)
	if !ok {
		return
	}

	if wantsAsync(r) {
		a.submitAsync(w, r, kind, input)
		return
	}
	a.submitSync(w, r, kind, input)
}

// parseJobInput pulls the uploaded image and its options out of the multipart
// form. A false return means the response has already been written.
func (a *Application) parseJobInput(w http.ResponseWriter, r *http.Request) (domain.JobInput, bool) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, string(domain.ErrorKindValidation),
				fmt.Sprintf("request body exceeds the %d byte limit", maxBytesErr.Limit))
			return domain.JobInput{}, false
		}
		writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
			fmt.Sprintf("invalid multipart form: %v", err))
		return domain.JobInput{}, false
	}

	file, _, err := r.FormFile(constants.MultipartImageField)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
			fmt.Sprintf("missing %q file field", constants.MultipartImageField))
		return domain.JobInput{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
			fmt.Sprintf("failed to read uploaded image: %v", err))
		return domain.JobInput{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
			"uploaded image is empty")
		return domain.JobInput{}, false
	}

	format := domain.ImageFormatPNG
	if raw := r.FormValue("format"); raw != "" {
		format = domain.ImageFormat(strings.ToUpper(raw))
		if !format.Valid() {
			writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
				fmt.Sprintf("unsupported format %q, expected PNG, JPEG or WEBP", raw))
			return domain.JobInput{}, false
		}
	}

	crop := false
	if raw := r.FormValue("crop"); raw != "" {
		crop, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(domain.ErrorKindValidation),
				fmt.Sprintf("invalid crop value %q", raw))
			return domain.JobInput{}, false
		}
	}

	return domain.JobInput{
		Image:  base64.StdEncoding.EncodeToString(data),
		Format: format,
		Crop:   crop,
	}, true
}

// wantsAsync honours async=true and mode=async in either the query string or
// the form body.
func wantsAsync(r *http.Request) bool {
	if raw := r.FormValue("async"); raw != "" {
		if async, err := strconv.ParseBool(raw); err == nil && async {
			return true
		}
	}
	return r.FormValue("mode") == "async"
}

func (a *Application) submitAsync(w http.ResponseWriter, r *http.Request, kind domain.JobKind, input domain.JobInput) {
	job := a.createJob(w, r, kind, input)
	if job == nil {
		return
	}

	a.logger.Info("Job accepted",
		"job_id", job.ID,
		"kind", kind.String(),
		"mode", "async",
		"client_ip", a.clientIP(r))

	writeJSON(w, http.StatusAccepted, asyncAcceptedResponse{
		JobID:     job.ID,
		State:     job.State.String(),
		StatusURL: "/api/jobs/" + job.ID + "/status",
		ResultURL: "/api/jobs/" + job.ID + "/result",
	})
}

// submitSync registers the job, then waits for its terminal event. The
// subscription opens before Create so the terminal event cannot slip past;
// the periodic re-check covers a dropped bus delivery.
func (a *Application) submitSync(w http.ResponseWriter, r *http.Request, kind domain.JobKind, input domain.JobInput) {
	events, unsubscribe := a.registry.Subscribe(r.Context())
	defer unsubscribe()

	job := a.createJob(w, r, kind, input)
	if job == nil {
		return
	}

	a.logger.Info("Job accepted",
		"job_id", job.ID,
		"kind", kind.String(),
		"mode", "sync",
		"client_ip", a.clientIP(r))

	deadline := time.NewTimer(requestTimeout(a.getConfig()))
	defer deadline.Stop()
	recheck := time.NewTicker(syncRecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-r.Context().Done():
			// the client went away; the job keeps running for later retrieval
			a.logger.Debug("Sync caller disconnected", "job_id", job.ID)
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Job == nil || event.Job.ID != job.ID || !event.Job.State.Terminal() {
				continue
			}
			a.writeSyncOutcome(w, event.Job)
			return

		case <-recheck.C:
			current, err := a.registry.Get(r.Context(), job.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, string(domain.ErrorKindInternal),
					"job disappeared while waiting for its result")
				return
			}
			if current.State.Terminal() {
				a.writeSyncOutcome(w, current)
				return
			}

		case <-deadline.C:
			writeError(w, http.StatusGatewayTimeout, string(domain.ErrorKindTimeout),
				"job did not finish within the configured timeout")
			return
		}
	}
}

// createJob registers the job; a nil return means the error response has been
// written.
func (a *Application) createJob(w http.ResponseWriter, r *http.Request, kind domain.JobKind, input domain.JobInput) *domain.Job {
	job, err := a.registry.Create(r.Context(), kind, input)
	if err != nil {
		a.logger.Warn("Job creation rejected", "kind", kind.String(), "error", err)
		writeError(w, http.StatusServiceUnavailable, string(domain.ErrorKindInternal),
			fmt.Sprintf("cannot accept job: %v", err))
		return nil
	}
	return job
}

func (a *Application) writeSyncOutcome(w http.ResponseWriter, job *domain.Job) {
	if job.State == domain.JobStateCompleted && job.Result != nil {
		writeJSON(w, http.StatusOK, processResponse{
			Success:               true,
			JobID:                 job.ID,
			Image:                 job.Result.Image,
			ContentType:           job.Result.ContentType,
			Filename:              job.Result.Filename,
			SubmissionID:          job.Result.SubmissionID,
			Worker:                job.AssignedWorker,
			ProcessingTimeSeconds: job.ProcessingDuration().Seconds(),
		})
		return
	}

	jobErr := job.Error
	if jobErr == nil {
		jobErr = domain.NewJobError(domain.ErrorKindInternal, "job failed without an error record", nil)
	}
	writeJSON(w, statusForErrorKind(jobErr.Kind), errorResponse{
		Success: false,
		Error:   jobErr.Message,
		Kind:    string(jobErr.Kind),
		JobID:   job.ID,
		Details: jobErr.Details,
	})
}

// statusForErrorKind maps the failure taxonomy onto HTTP status codes.
func statusForErrorKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindValidation:
		return http.StatusBadRequest
	case domain.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorKindTransport, domain.ErrorKindUpstreamExecution:
		return http.StatusBadGateway
	case domain.ErrorKindBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
