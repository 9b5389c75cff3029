package constants

// ComfyUI upstream API paths. Every worker in the fleet speaks this surface.
const (
	ComfyPathSystemStats = "/system_stats"
	ComfyPathPrompt      = "/prompt"
	ComfyPathHistory     = "/history"
	ComfyPathView        = "/view"
	ComfyPathWebSocket   = "/ws"
)

// WebSocket event types emitted by ComfyUI during workflow execution
const (
	ComfyEventStatus          = "status"
	ComfyEventExecuting       = "executing"
	ComfyEventExecuted        = "executed"
	ComfyEventExecutionCached = "execution_cached"
	ComfyEventExecutionError  = "execution_error"
	ComfyEventExecutionStart  = "execution_start"
	ComfyEventProgress        = "progress"
)
