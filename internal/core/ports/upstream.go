package ports

import (
	"context"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// WorkflowProvider prepares a submission-ready graph for a job: a deep copy
// of the kind's template with the job input already rewritten in
type WorkflowProvider interface {
	Prepare(job *domain.Job) (*PreparedWorkflow, error)
}

// PreparedWorkflow pairs the rewritten graph with the node whose output the
// executor should read first
type PreparedWorkflow struct {
	Graph      domain.WorkflowGraph
	TargetNode string
}

// OutputImage is one file reference from a worker's history payload
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryOutputs maps output node id to the images that node produced
type HistoryOutputs map[string][]OutputImage

// UpstreamClient is the worker REST surface the executor drives. SubmitPrompt
// returns the worker-assigned submission id; validation rejections surface as
// domain.JobError with the validation kind.
type UpstreamClient interface {
	SubmitPrompt(ctx context.Context, worker *domain.Worker, graph domain.WorkflowGraph, clientID string) (string, error)
	History(ctx context.Context, worker *domain.Worker, submissionID string) (HistoryOutputs, error)
	View(ctx context.Context, worker *domain.Worker, image OutputImage) ([]byte, string, error)
}
