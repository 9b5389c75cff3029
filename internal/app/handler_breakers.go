package app

import (
	"net/http"
	"sort"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
)

// breakerView decorates a snapshot with a human-readable reopen countdown.
type breakerView struct {
	domain.BreakerSnapshot
	NextAttemptIn string `json:"next_attempt_in,omitempty"`
}

func (a *Application) breakersHandler(w http.ResponseWriter, r *http.Request) {
	snapshots := a.breakers.Snapshots()
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Worker < snapshots[j].Worker })

	open := 0
	views := make([]breakerView, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot.State != domain.BreakerClosed {
			open++
		}
		view := breakerView{BreakerSnapshot: snapshot}
		if snapshot.NextAttemptAt != nil {
			view.NextAttemptIn = format.TimeUntil(*snapshot.NextAttemptAt)
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(snapshots),
		"tripped":  open,
		"breakers": views,
	})
}

// breakerOpenHandler forces a worker's breaker open, taking it out of
// dispatch until the matching close call.
func (a *Application) breakerOpenHandler(w http.ResponseWriter, r *http.Request) {
	a.forceBreaker(w, r, true)
}

func (a *Application) breakerCloseHandler(w http.ResponseWriter, r *http.Request) {
	a.forceBreaker(w, r, false)
}

func (a *Application) forceBreaker(w http.ResponseWriter, r *http.Request, open bool) {
	name := r.PathValue("name")
	if !a.workers.Exists(r.Context(), name) {
		writeError(w, http.StatusNotFound, string(domain.ErrorKindValidation),
			"unknown worker "+name)
		return
	}

	breaker := a.breakers.ForWorker(name)
	if open {
		breaker.ForceOpen()
		a.logger.WarnWithWorker("Circuit breaker forced open", name)
	} else {
		breaker.ForceClose()
		a.logger.InfoWithWorker("Circuit breaker forced closed", name)
		a.scheduler.Kick()
	}

	writeJSON(w, http.StatusOK, breaker.Snapshot())
}
