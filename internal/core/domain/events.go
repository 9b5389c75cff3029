package domain

import "time"

type JobEventType string

const (
	JobEventCreated   JobEventType = "created"
	JobEventScheduled JobEventType = "scheduled"
	JobEventCompleted JobEventType = "completed"
	JobEventFailed    JobEventType = "failed"
	JobEventDeleted   JobEventType = "deleted"
)

// JobEvent is published on the event bus at every job lifecycle transition.
// Job is a clone; subscribers may read it freely.
type JobEvent struct {
	Type JobEventType
	Job  *Job
	At   time.Time
}
