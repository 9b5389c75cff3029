package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

const (
	DefaultLogTimeout = 2 * time.Minute
)

// StatusTransitionTracker decides which probe outcomes deserve a log line.
// Transitions always log; a status that merely repeats is suppressed, with
// failing workers surfacing every tenth error or after DefaultLogTimeout
// of silence, whichever comes first.
type StatusTransitionTracker struct {
	entries sync.Map // worker name -> *statusEntry
}

type statusEntry struct {
	lastStatus  int32 // index into statusCodes
	lastLogTime int64 // unix nanos of the last emitted line
	errorCount  int64
}

// statusCodes gives each status an index so the current one fits an int32 cell.
// StatusUnknown sits last and doubles as the out-of-range fallback.
var statusCodes = []domain.WorkerStatus{
	domain.StatusHealthy,
	domain.StatusBusy,
	domain.StatusOffline,
	domain.StatusUnhealthy,
	domain.StatusUnknown,
}

func NewStatusTransitionTracker() *StatusTransitionTracker {
	return &StatusTransitionTracker{}
}

// ShouldLog reports whether this observation should be logged and how many
// consecutive errors the worker has accumulated since its last transition.
func (st *StatusTransitionTracker) ShouldLog(workerName string, newStatus domain.WorkerStatus, isError bool) (bool, int) {
	fresh := &statusEntry{
		lastStatus:  statusToInt(newStatus),
		lastLogTime: time.Now().UnixNano(),
	}
	value, known := st.entries.LoadOrStore(workerName, fresh)
	if !known {
		return true, 0
	}

	entry := value.(*statusEntry)
	if intToStatus(atomic.LoadInt32(&entry.lastStatus)) != newStatus {
		atomic.StoreInt32(&entry.lastStatus, statusToInt(newStatus))
		atomic.StoreInt64(&entry.errorCount, 0)
		return true, 0
	}

	if !isError {
		return false, int(atomic.LoadInt64(&entry.errorCount))
	}

	count := atomic.AddInt64(&entry.errorCount, 1)
	sinceLast := time.Now().UnixNano() - atomic.LoadInt64(&entry.lastLogTime)
	if count%10 == 0 || sinceLast > int64(DefaultLogTimeout) {
		atomic.StoreInt64(&entry.lastLogTime, time.Now().UnixNano())
		return true, int(count)
	}
	return false, int(count)
}

func (st *StatusTransitionTracker) GetTrackedWorkers() []string {
	var workers []string
	st.entries.Range(func(key, _ any) bool {
		workers = append(workers, key.(string))
		return true
	})
	return workers
}

func (st *StatusTransitionTracker) CleanupWorker(workerName string) {
	st.entries.Delete(workerName)
}

func statusToInt(status domain.WorkerStatus) int32 {
	for i, s := range statusCodes {
		if s == status {
			return int32(i)
		}
	}
	return int32(len(statusCodes) - 1)
}

func intToStatus(i int32) domain.WorkerStatus {
	if i < 0 || int(i) >= len(statusCodes) {
		return domain.StatusUnknown
	}
	return statusCodes[i]
}
