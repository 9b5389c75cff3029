package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// FileSink implements ports.ResultSink by writing output images under
// <dir>/<submission_id>/<filename>. Sink failures never fail a job; the
// executor logs and moves on.
type FileSink struct {
	dir    string
	logger logger.StyledLogger
}

func NewFileSink(dir string, styledLogger logger.StyledLogger) *FileSink {
	return &FileSink{
		dir:    dir,
		logger: styledLogger,
	}
}

// Save writes one image. Filename and submission id are reduced to their
// base names; upstream values must not escape the sink directory.
func (s *FileSink) Save(ctx context.Context, submissionID, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.dir, filepath.Base(submissionID))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(target, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output image: %w", err)
	}

	s.logger.Debug("Output image saved", "path", path, "bytes", len(data))
	return nil
}
