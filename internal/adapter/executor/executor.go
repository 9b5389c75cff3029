package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

// Executor drives one job through the full upstream protocol: borrow a
// stream, rewrite the workflow template, submit, watch the event stream
// until the worker reports completion, then pull the output image out of
// history and commit the result.
//
// The execution clock starts before the stream is acquired; everything up to
// the commit runs under one deadline. Terminal registry transitions belong to
// the executor alone; the scheduler only observes the returned error.
type Executor struct {
	cfg      config.ExecutionConfig
	streams  ports.StreamLender
	provider ports.WorkflowProvider
	upstream ports.UpstreamClient
	breakers ports.BreakerRegistry
	health   ports.HealthMonitor
	registry ports.JobRegistry
	sink     ports.ResultSink
	logger   logger.StyledLogger
}

func NewExecutor(
	cfg config.ExecutionConfig,
	streams ports.StreamLender,
	provider ports.WorkflowProvider,
	upstream ports.UpstreamClient,
	breakers ports.BreakerRegistry,
	health ports.HealthMonitor,
	registry ports.JobRegistry,
	sink ports.ResultSink,
	styledLogger logger.StyledLogger,
) *Executor {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}

	return &Executor{
		cfg:      cfg,
		streams:  streams,
		provider: provider,
		upstream: upstream,
		breakers: breakers,
		health:   health,
		registry: registry,
		sink:     sink,
		logger:   styledLogger,
	}
}

func (e *Executor) Execute(ctx context.Context, job *domain.Job, worker *domain.Worker) error {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	started := time.Now()

	stream, err := e.streams.Acquire(execCtx, worker)
	if err != nil {
		return e.fail(ctx, job, e.classifyAcquire(err, worker))
	}
	defer e.streams.Release(stream)

	prepared, err := e.provider.Prepare(job)
	if err != nil {
		return e.fail(ctx, job, domain.NewJobError(domain.ErrorKindInternal,
			"workflow preparation failed", err))
	}

	submissionID, jobErr := e.submit(execCtx, job, worker, prepared.Graph, stream.ClientID())
	if jobErr != nil {
		return e.fail(ctx, job, jobErr)
	}

	if err := e.registry.SetSubmissionID(ctx, job.ID, submissionID); err != nil {
		e.logger.Debug("Submission id not recorded", "job_id", job.ID, "error", err)
	}

	if jobErr := e.watch(execCtx, job, worker, stream, submissionID); jobErr != nil {
		return e.fail(ctx, job, jobErr)
	}

	// the worker writes history asynchronously after the done event
	e.settle(execCtx)

	result, jobErr := e.collect(execCtx, job, worker, submissionID, prepared.TargetNode)
	if jobErr != nil {
		return e.fail(ctx, job, jobErr)
	}

	if err := e.registry.Complete(ctx, job.ID, result); err != nil {
		// the deadline timer fired first; the image exists but the job is
		// already failed, so the result is dropped
		e.logger.Warn("Result discarded, job already terminal",
			"job_id", job.ID,
			"worker", worker.Name,
			"error", err)
		return nil
	}

	e.logger.Debug("Job executed",
		"job_id", job.ID,
		"worker", worker.Name,
		"submission_id", submissionID,
		"bytes", result.Bytes,
		"duration", time.Since(started))
	return nil
}

// submit posts the graph under the worker's circuit breaker. Only transport
// and timeout outcomes count as breaker failures: a worker that answers with
// a graph rejection is healthy, just unhappy with the input.
func (e *Executor) submit(ctx context.Context, job *domain.Job, worker *domain.Worker, graph domain.WorkflowGraph, clientID string) (string, *domain.JobError) {
	var breaker ports.CircuitBreaker
	if e.breakers != nil {
		breaker = e.breakers.ForWorker(worker.Name)
	}

	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return "", domain.NewJobError(domain.ErrorKindBreakerOpen,
				"worker circuit open", err).WithDetail("worker", worker.Name)
		}
	}

	submissionID, err := e.upstream.SubmitPrompt(ctx, worker, graph, clientID)
	if err != nil {
		jobErr := domain.JobErrorFrom(err)
		if jobErr.Kind == domain.ErrorKindTransport || jobErr.Kind == domain.ErrorKindTimeout {
			if breaker != nil {
				breaker.OnFailure()
			}
			e.flagWorker(worker.Name, "submit failed: "+jobErr.Message)
		} else if breaker != nil {
			breaker.OnSuccess()
		}
		return "", jobErr
	}

	if breaker != nil {
		breaker.OnSuccess()
	}
	return submissionID, nil
}

// watch consumes stream events until the worker signals completion for our
// submission. Done arrives as `executing` with a null node, or as a `status`
// with an empty queue when the whole workflow was served from cache.
func (e *Executor) watch(ctx context.Context, job *domain.Job, worker *domain.Worker, stream ports.PooledStream, submissionID string) *domain.JobError {
	cached := make(map[string]struct{})
	executed := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			e.flagWorker(worker.Name, "execution deadline exceeded")
			return domain.NewJobError(domain.ErrorKindTimeout,
				fmt.Sprintf("no completion within %s", e.cfg.ExecutionTimeout), ctx.Err()).
				WithDetail("worker", worker.Name).
				WithDetail("submission_id", submissionID)

		case frame, ok := <-stream.Events():
			if !ok {
				e.flagWorker(worker.Name, "stream closed mid-execution")
				return domain.NewJobError(domain.ErrorKindTransport,
					"worker stream closed mid-execution", nil).
					WithDetail("worker", worker.Name).
					WithDetail("submission_id", submissionID)
			}

			eventType := gjson.GetBytes(frame, "type").String()
			promptID := gjson.GetBytes(frame, "data.prompt_id").String()

			switch eventType {
			case constants.ComfyEventStatus:
				// status events are global; an empty queue means nothing of
				// ours is running or waiting, which is how cache-served
				// submissions complete
				remaining := gjson.GetBytes(frame, "data.status.exec_info.queue_remaining")
				if remaining.Exists() && remaining.Int() == 0 {
					e.logger.Debug("Execution complete",
						"job_id", job.ID,
						"submission_id", submissionID,
						"reason", "queue drained",
						"cached_nodes", len(cached))
					return nil
				}

			case constants.ComfyEventExecutionCached:
				if promptID != submissionID {
					continue
				}
				for _, node := range gjson.GetBytes(frame, "data.nodes").Array() {
					cached[node.String()] = struct{}{}
				}
				_ = e.registry.Touch(ctx, job.ID)

			case constants.ComfyEventExecuting:
				if promptID != submissionID {
					continue
				}
				node := gjson.GetBytes(frame, "data.node")
				if node.Type == gjson.Null {
					e.logger.Debug("Execution complete",
						"job_id", job.ID,
						"submission_id", submissionID,
						"reason", "final node",
						"executed_nodes", len(executed),
						"cached_nodes", len(cached))
					return nil
				}
				executed[node.String()] = struct{}{}
				_ = e.registry.Touch(ctx, job.ID)

			case constants.ComfyEventExecutionError:
				if promptID != submissionID {
					continue
				}
				message := gjson.GetBytes(frame, "data.exception_message").String()
				if message == "" {
					message = "workflow execution failed"
				}
				return domain.NewJobError(domain.ErrorKindUpstreamExecution, message, nil).
					WithDetail("worker", worker.Name).
					WithDetail("submission_id", submissionID).
					WithDetail("node_id", gjson.GetBytes(frame, "data.node_id").String()).
					WithDetail("node_type", gjson.GetBytes(frame, "data.node_type").String()).
					WithDetail("exception_type", gjson.GetBytes(frame, "data.exception_type").String())

			case constants.ComfyEventExecuted, constants.ComfyEventProgress, constants.ComfyEventExecutionStart:
				if promptID == submissionID {
					_ = e.registry.Touch(ctx, job.ID)
				}
			}
		}
	}
}

// settle gives the worker a beat to flush history before we read it
func (e *Executor) settle(ctx context.Context) {
	timer := time.NewTimer(e.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// collect reads history, picks the output image and downloads it. The kind's
// target node wins when it produced images; otherwise the lowest-numbered
// node with images is taken.
func (e *Executor) collect(ctx context.Context, job *domain.Job, worker *domain.Worker, submissionID, targetNode string) (*domain.JobResult, *domain.JobError) {
	outputs, err := e.upstream.History(ctx, worker, submissionID)
	if err != nil {
		jobErr := domain.JobErrorFrom(err)
		if jobErr.Kind == domain.ErrorKindTransport || jobErr.Kind == domain.ErrorKindTimeout {
			e.flagWorker(worker.Name, "history fetch failed: "+jobErr.Message)
		}
		return nil, jobErr
	}

	image, ok := pickOutput(outputs, targetNode)
	if !ok {
		return nil, domain.NewJobError(domain.ErrorKindMissingOutput,
			"execution finished but produced no output images", nil).
			WithDetail("worker", worker.Name).
			WithDetail("submission_id", submissionID).
			WithDetail("target_node", targetNode)
	}

	data, contentType, err := e.upstream.View(ctx, worker, image)
	if err != nil {
		return nil, domain.JobErrorFrom(err)
	}

	if e.sink != nil {
		if saveErr := e.sink.Save(ctx, submissionID, image.Filename, data); saveErr != nil {
			e.logger.Warn("Output file not saved",
				"job_id", job.ID,
				"submission_id", submissionID,
				"filename", image.Filename,
				"error", saveErr)
		}
	}

	return &domain.JobResult{
		Image:        util.DataURL(contentType, data),
		ContentType:  contentType,
		Filename:     image.Filename,
		SubmissionID: submissionID,
		Bytes:        len(data),
		CompletedAt:  time.Now(),
	}, nil
}

// fail records the terminal failure. A job the registry already closed out
// (deadline, delete) swallows the record but still reports the error upward.
func (e *Executor) fail(ctx context.Context, job *domain.Job, jobErr *domain.JobError) error {
	if err := e.registry.Fail(ctx, job.ID, jobErr); err != nil {
		e.logger.Debug("Failure not recorded, job already terminal",
			"job_id", job.ID, "error", err)
	}
	return jobErr
}

// classifyAcquire maps pool errors onto job failure kinds. Saturation is a
// timeout and says nothing about worker health; a dial failure means the
// worker is unreachable and flags it.
func (e *Executor) classifyAcquire(err error, worker *domain.Worker) *domain.JobError {
	switch {
	case errors.Is(err, ports.ErrAcquireTimeout):
		return domain.NewJobError(domain.ErrorKindTimeout,
			"no worker stream available", err).WithDetail("worker", worker.Name)
	case errors.Is(err, ports.ErrPoolClosed):
		return domain.NewJobError(domain.ErrorKindTransport,
			"stream pool shutting down", err).WithDetail("worker", worker.Name)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewJobError(domain.ErrorKindTimeout,
			"stream acquisition exceeded the execution deadline", err).WithDetail("worker", worker.Name)
	default:
		e.flagWorker(worker.Name, "stream dial failed")
		return domain.NewJobError(domain.ErrorKindTransport,
			"worker stream unavailable", err).WithDetail("worker", worker.Name)
	}
}

func (e *Executor) flagWorker(name, reason string) {
	if e.health != nil {
		e.health.MarkUnhealthy(context.Background(), name, reason)
	}
}

// pickOutput prefers the target node, then falls back to the lowest-numbered
// node bearing images so the choice is deterministic.
func pickOutput(outputs ports.HistoryOutputs, targetNode string) (ports.OutputImage, bool) {
	if images, ok := outputs[targetNode]; ok && len(images) > 0 {
		return images[0], true
	}

	nodes := make([]string, 0, len(outputs))
	for node, images := range outputs {
		if len(images) > 0 {
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 0 {
		return ports.OutputImage{}, false
	}

	sort.Slice(nodes, func(i, j int) bool {
		left, leftErr := strconv.Atoi(nodes[i])
		right, rightErr := strconv.Atoi(nodes[j])
		if leftErr == nil && rightErr == nil {
			return left < right
		}
		return nodes[i] < nodes[j]
	})
	return outputs[nodes[0]][0], true
}
