package constants

const (
	ContextRequestIdKey   = "request_id"   // generated per request for correlation across logs
	ContextRequestTimeKey = "request_time" // request arrival time, used to report handler latency
)
