package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

func postMultipart(t *testing.T, ta *testApp, path string, image []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, image, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return ta.do(req)
}

func TestHandleProcess_ValidationErrors(t *testing.T) {
	ta := newTestApp(t, nil)

	tests := []struct {
		name   string
		image  []byte
		fields map[string]string
	}{
		{name: "missing image file", image: nil},
		{name: "empty image", image: []byte{}},
		{name: "unsupported format", image: []byte("png-bytes"), fields: map[string]string{"format": "GIF"}},
		{name: "bad crop value", image: []byte("png-bytes"), fields: map[string]string{"crop": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMultipart(t, ta, "/api/remove-background", tt.image, tt.fields)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(domain.ErrorKindValidation), resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleProcess_NonMultipartBody(t *testing.T) {
	ta := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upscale-image",
		strings.NewReader(url.Values{"imageFile": {"not-a-file"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := ta.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProcess_AsyncAccepted(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := postMultipart(t, ta, "/api/remove-background", []byte("png-bytes"),
		map[string]string{"async": "true"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp asyncAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "pending", resp.State)
	assert.Equal(t, "/api/jobs/"+resp.JobID+"/status", resp.StatusURL)
	assert.Equal(t, "/api/jobs/"+resp.JobID+"/result", resp.ResultURL)

	job, err := ta.registry.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindRemoveBackground, job.Kind)
	assert.True(t, job.Input.Crop == false && job.Input.Format == domain.ImageFormatPNG)
}

func TestHandleProcess_ModeAsyncField(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := postMultipart(t, ta, "/api/upscale-remove-bg", []byte("png-bytes"),
		map[string]string{"mode": "async", "format": "jpeg", "crop": "true"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp asyncAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	job, err := ta.registry.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageFormatJPEG, job.Input.Format)
	assert.True(t, job.Input.Crop)
}

func TestAsyncSubmitHandler(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := postMultipart(t, ta, "/api/async/upscale-image", []byte("png-bytes"), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = postMultipart(t, ta, "/api/async/shrink-image", []byte("png-bytes"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "shrink-image")
}

func TestHandleProcess_SyncCompleted(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.addWorker(t, "worker-a")
	ta.startScheduler(t)

	rec := postMultipart(t, ta, "/api/remove-background", []byte("png-bytes"), nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp processResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.JobID)
	assert.True(t, strings.HasPrefix(resp.Image, "data:image/png;base64,"))
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, "cmw_00001_.png", resp.Filename)
	assert.Equal(t, "worker-a", resp.Worker)
	assert.NotEmpty(t, resp.SubmissionID)
}

func TestHandleProcess_SyncFailureStatusMapping(t *testing.T) {
	tests := []struct {
		kind   domain.ErrorKind
		status int
	}{
		{domain.ErrorKindValidation, http.StatusBadRequest},
		{domain.ErrorKindTimeout, http.StatusGatewayTimeout},
		{domain.ErrorKindTransport, http.StatusBadGateway},
		{domain.ErrorKindUpstreamExecution, http.StatusBadGateway},
		{domain.ErrorKindBreakerOpen, http.StatusServiceUnavailable},
		{domain.ErrorKindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ta := newTestApp(t, nil)
			ta.executor.failWith = domain.NewJobError(tt.kind, "synthetic failure", nil)
			ta.addWorker(t, "worker-a")
			ta.startScheduler(t)

			rec := postMultipart(t, ta, "/api/upscale-image", []byte("png-bytes"), nil)
			assert.Equal(t, tt.status, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.kind), resp.Kind)
			assert.NotEmpty(t, resp.JobID)
		})
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	ta := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.RequestLimits.MaxBodySize = 512
	})
	handler := ta.app.bodyLimitMiddleware(ta.mux)

	body, contentType := multipartUpload(t, make([]byte, 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStatusForErrorKind_Default(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusForErrorKind(domain.ErrorKindMissingOutput))
	assert.Equal(t, http.StatusInternalServerError, statusForErrorKind(domain.ErrorKindDownloadFailure))
}
