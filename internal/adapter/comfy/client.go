package comfy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/pool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxControlBody caps submit and history response reads. Image bytes go
// through View, which streams into a pooled buffer instead.
const maxControlBody = 8 * 1024 * 1024

// Client drives the worker REST surface: submit a graph, read back history,
// download outputs. One instance serves the whole fleet; per-call deadlines
// come from the caller's context.
type Client struct {
	httpClient *http.Client
	logger     logger.StyledLogger
	buffers    *pool.Pool[*bytes.Buffer]
}

func NewClient(httpClient *http.Client, styledLogger logger.StyledLogger) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	buffers, err := pool.NewLitePool(func() *bytes.Buffer {
		return new(bytes.Buffer)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %w", err)
	}

	return &Client{
		httpClient: httpClient,
		logger:     styledLogger,
		buffers:    buffers,
	}, nil
}

type submitRequest struct {
	Prompt   domain.WorkflowGraph `json:"prompt"`
	ClientID string               `json:"client_id"`
}

// SubmitPrompt enqueues the graph on the worker and returns the submission id
// it assigned. Rejections with node errors surface as validation failures;
// anything network-shaped surfaces as transport.
func (c *Client) SubmitPrompt(ctx context.Context, worker *domain.Worker, graph domain.WorkflowGraph, clientID string) (string, error) {
	buf := c.buffers.Get()
	buf.Reset()
	defer c.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(submitRequest{Prompt: graph, ClientID: clientID}); err != nil {
		return "", domain.NewJobError(domain.ErrorKindInternal, "encode graph submission", err)
	}

	endpoint := util.ResolveURLPath(worker.GetURLString(), constants.ComfyPathPrompt)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", domain.NewJobError(domain.ErrorKindInternal, "build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("submit graph", worker, err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxControlBody))
	if err != nil {
		return "", transportError("read submit response", worker, err)
	}

	if nodeErrors := gjson.GetBytes(payload, "node_errors"); nodeErrors.Exists() && len(nodeErrors.Map()) > 0 {
		return "", domain.NewJobError(domain.ErrorKindValidation, "worker rejected the graph", nil).
			WithDetail("node_errors", nodeErrors.Value()).
			WithDetail("worker", worker.Name)
	}

	if resp.StatusCode == http.StatusBadRequest {
		message := gjson.GetBytes(payload, "error.message").String()
		if message == "" {
			message = gjson.GetBytes(payload, "error").String()
		}
		if message == "" {
			message = "worker rejected the submission"
		}
		return "", domain.NewJobError(domain.ErrorKindValidation, message, nil).
			WithDetail("worker", worker.Name)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewJobError(domain.ErrorKindTransport,
			fmt.Sprintf("submit returned HTTP %d", resp.StatusCode), nil).
			WithDetail("worker", worker.Name)
	}

	submissionID := gjson.GetBytes(payload, "prompt_id").String()
	if submissionID == "" {
		return "", domain.NewJobError(domain.ErrorKindTransport,
			"submit response carried no prompt id", nil).
			WithDetail("worker", worker.Name)
	}

	c.logger.Debug("Graph submitted",
		"worker", worker.Name, "submission_id", submissionID,
		"queue_position", gjson.GetBytes(payload, "number").Int())

	return submissionID, nil
}

// History fetches the outputs recorded for a submission. A submission the
// worker has not (or no longer) recorded yields an empty map, not an error;
// the caller decides what absence means.
func (c *Client) History(ctx context.Context, worker *domain.Worker, submissionID string) (ports.HistoryOutputs, error) {
	endpoint := util.ResolveURLPath(worker.GetURLString(), constants.ComfyPathHistory+"/"+url.PathEscape(submissionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewJobError(domain.ErrorKindInternal, "build history request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("fetch history", worker, err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewJobError(domain.ErrorKindTransport,
			fmt.Sprintf("history returned HTTP %d", resp.StatusCode), nil).
			WithDetail("worker", worker.Name)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxControlBody))
	if err != nil {
		return nil, transportError("read history response", worker, err)
	}

	outputs := make(ports.HistoryOutputs)
	gjson.GetBytes(payload, submissionID+".outputs").ForEach(func(node, value gjson.Result) bool {
		images := value.Get("images")
		if !images.IsArray() {
			return true
		}
		var refs []ports.OutputImage
		images.ForEach(func(_, img gjson.Result) bool {
			refs = append(refs, ports.OutputImage{
				Filename:  img.Get("filename").String(),
				Subfolder: img.Get("subfolder").String(),
				Type:      img.Get("type").String(),
			})
			return true
		})
		if len(refs) > 0 {
			outputs[node.String()] = refs
		}
		return true
	})

	return outputs, nil
}

// View downloads one output image and returns its bytes and content type.
// Every failure here is a download failure: the work already succeeded
// upstream, only the fetch is broken.
func (c *Client) View(ctx context.Context, worker *domain.Worker, image ports.OutputImage) ([]byte, string, error) {
	query := url.Values{}
	query.Set("filename", image.Filename)
	query.Set("subfolder", image.Subfolder)
	query.Set("type", image.Type)

	endpoint := util.ResolveURLPath(worker.GetURLString(), constants.ComfyPathView) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", domain.NewJobError(domain.ErrorKindDownloadFailure, "build view request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", domain.NewJobError(domain.ErrorKindDownloadFailure,
			fmt.Sprintf("download %s", image.Filename), err).
			WithDetail("worker", worker.Name)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", domain.NewJobError(domain.ErrorKindDownloadFailure,
			fmt.Sprintf("view returned HTTP %d for %s", resp.StatusCode, image.Filename), nil).
			WithDetail("worker", worker.Name)
	}

	buf := c.buffers.Get()
	buf.Reset()
	defer c.buffers.Put(buf)

	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, "", domain.NewJobError(domain.ErrorKindDownloadFailure,
			fmt.Sprintf("read image %s", image.Filename), err).
			WithDetail("worker", worker.Name)
	}

	// The pooled buffer goes back; hand the caller its own copy
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	return data, contentType, nil
}

// transportError classifies network failures, keeping timeouts distinct so
// they map to the right status northbound
func transportError(operation string, worker *domain.Worker, err error) *domain.JobError {
	kind := domain.ErrorKindTransport

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = domain.ErrorKindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ErrorKindTimeout
	}

	return domain.NewJobError(kind, operation, err).WithDetail("worker", worker.Name)
}
